package postgres

const getClientQuery = `
SELECT id, name, confidential, secret_hash, redirect_uris, grant_types, scopes, date_added, date_modified
FROM openidc.client
WHERE id = $1`

const listScopesQuery = `
SELECT id, description
FROM openidc.scope
WHERE id = ANY($1)`

const getUserQuery = `
SELECT id, claims, date_added
FROM openidc.account
WHERE id = $1`

const putAuthCodeQuery = `
INSERT INTO openidc.auth_code
	(code, client_id, subject, scopes, redirect_uri, nonce, code_challenge, code_challenge_method, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// consumeAuthCode only succeeds for codes never used before; the losing side
// of a concurrent exchange matches zero rows and falls back to getAuthCode to
// distinguish "already used" from "unknown".
const consumeAuthCodeQuery = `
UPDATE openidc.auth_code
SET used_at = $2
WHERE code = $1 AND used_at IS NULL
RETURNING client_id, subject, scopes, redirect_uri, nonce, code_challenge, code_challenge_method, expires_at, used_at`

const getAuthCodeQuery = `
SELECT client_id, subject, scopes, redirect_uri, nonce, code_challenge, code_challenge_method, expires_at, used_at
FROM openidc.auth_code
WHERE code = $1`

const putAccessTokenQuery = `
INSERT INTO openidc.access_token
	(id, client_id, subject, scopes, auth_code_id, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const revokeAccessTokenQuery = `
UPDATE openidc.access_token
SET revoked_at = $2
WHERE id = $1 AND revoked_at IS NULL`

const getAccessTokenStatusQuery = `
SELECT revoked_at
FROM openidc.access_token
WHERE id = $1`

const revokeAccessByCodeQuery = `
UPDATE openidc.access_token
SET revoked_at = $2
WHERE auth_code_id = $1 AND revoked_at IS NULL`

const revokeRefreshByCodeQuery = `
UPDATE openidc.refresh_token AS rt
SET revoked_at = $2
FROM openidc.access_token AS at
WHERE rt.access_token_id = at.id
  AND at.auth_code_id = $1
  AND rt.revoked_at IS NULL`

const putRefreshTokenQuery = `
INSERT INTO openidc.refresh_token
	(id, access_token_id, client_id, subject, scopes, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const getRefreshTokenQuery = `
SELECT access_token_id, client_id, subject, scopes, issued_at, expires_at, revoked_at, rotated_at
FROM openidc.refresh_token
WHERE id = $1`

// rotateRefreshToken marks the first use and tolerates replays whose original
// rotation still falls inside the grace cutoff ($3 = now - grace). COALESCE
// keeps the original rotation timestamp on grace replays.
const rotateRefreshTokenQuery = `
UPDATE openidc.refresh_token
SET rotated_at = COALESCE(rotated_at, $2)
WHERE id = $1
  AND revoked_at IS NULL
  AND (rotated_at IS NULL OR rotated_at > $3)
RETURNING access_token_id, client_id, subject, scopes, issued_at, expires_at, revoked_at, rotated_at`

const revokeRefreshTokenQuery = `
UPDATE openidc.refresh_token
SET revoked_at = $2
WHERE id = $1 AND revoked_at IS NULL`
