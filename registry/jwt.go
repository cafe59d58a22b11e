package registry

import (
	"errors"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// claims of the bearer jwt used for the api and the relay
// the jwt is verified by the services, not by the client
type ByJwt struct {
	UserId      Id
	NetworkName string
	ClientId    Id
}

func ParseByJwtUnverified(byJwt string) (*ByJwt, error) {
	if byJwt == "" {
		return nil, errors.New("Missing jwt.")
	}

	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(byJwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, errors.New("Unexpected jwt claims.")
	}

	parsed := &ByJwt{}

	if userIdStr, ok := claims["user_id"].(string); ok {
		if userId, err := ParseId(userIdStr); err == nil {
			parsed.UserId = userId
		}
	}
	if networkName, ok := claims["network_name"].(string); ok {
		parsed.NetworkName = networkName
	}
	if clientIdStr, ok := claims["client_id"].(string); ok {
		if clientId, err := ParseId(clientIdStr); err == nil {
			parsed.ClientId = clientId
		}
	}

	return parsed, nil
}

// a log tag for the jwt holder. Falls back to "anonymous" for a missing or unreadable jwt.
func byJwtTag(byJwt string) string {
	parsed, err := ParseByJwtUnverified(byJwt)
	if err != nil {
		return "anonymous"
	}
	if !parsed.ClientId.IsZero() {
		return parsed.ClientId.String()
	}
	if parsed.NetworkName != "" {
		return parsed.NetworkName
	}
	return "anonymous"
}
