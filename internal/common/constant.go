package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// MaskedSecret replaces a stored password in list and detail views.
const MaskedSecret = "••••••••"
