package grant

import (
	"errors"
)

var (
	ErrNilHandler            = errors.New("grant: handler is nil")
	ErrEmptyGrantType        = errors.New("grant: grant type is empty")
	ErrDuplicateGrantType    = errors.New("grant: grant type already registered")
	ErrDuplicateResponseType = errors.New("grant: response type already registered")
	ErrUnregistrableHandler  = errors.New("grant: value implements neither Handler nor Authorizer")
)

// Registry maps grant types to their token-phase handlers and response types
// to their authorize-phase handlers. A single value may register under both
// tables; the authorization-code grant does.
type Registry struct {
	handlers    map[string]Handler
	authorizers map[string]Authorizer
}

func NewRegistry(values ...any) (*Registry, error) {
	r := &Registry{
		handlers:    map[string]Handler{},
		authorizers: map[string]Authorizer{},
	}

	for _, value := range values {
		if err := r.Register(value); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Register inserts value under every protocol surface it implements.
func (r *Registry) Register(value any) error {
	if value == nil {
		return ErrNilHandler
	}

	registered := false

	if handler, ok := value.(Handler); ok {
		grantType := handler.GrantType()
		if grantType == "" {
			return ErrEmptyGrantType
		}
		if _, exists := r.handlers[grantType]; exists {
			return ErrDuplicateGrantType
		}
		r.handlers[grantType] = handler
		registered = true
	}

	if authorizer, ok := value.(Authorizer); ok {
		responseType := authorizer.ResponseType()
		if responseType == "" {
			return ErrEmptyGrantType
		}
		if _, exists := r.authorizers[responseType]; exists {
			return ErrDuplicateResponseType
		}
		r.authorizers[responseType] = authorizer
		registered = true
	}

	if !registered {
		return ErrUnregistrableHandler
	}
	return nil
}

func (r *Registry) Handler(grantType string) (Handler, bool) {
	handler, ok := r.handlers[grantType]
	return handler, ok
}

func (r *Registry) Authorizer(responseType string) (Authorizer, bool) {
	authorizer, ok := r.authorizers[responseType]
	return authorizer, ok
}

func (r *Registry) GrantTypes() []string {
	types := make([]string, 0, len(r.handlers))
	for grantType := range r.handlers {
		types = append(types, grantType)
	}
	return types
}

func (r *Registry) ResponseTypes() []string {
	types := make([]string, 0, len(r.authorizers))
	for responseType := range r.authorizers {
		types = append(types, responseType)
	}
	return types
}
