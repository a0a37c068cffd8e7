package engine

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
)

// DefaultBaseURL is used when the caller omits baseUrl.
const DefaultBaseURL = "https://triflow.ai"

// Input is the caller-supplied scenario configuration for one run.
type Input struct {
	BaseURL  string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty" jsonschema:"format=uri,default=https://triflow.ai,description=Application origin to test"`
	Email    string `json:"email" yaml:"email" jsonschema:"format=email,description=Login email address"`
	Password string `json:"password" yaml:"password" jsonschema:"minLength=1,description=Login password"`
}

// Normalize applies the base URL default and checks every field.
func (in Input) Normalize() (Input, error) {
	if strings.TrimSpace(in.BaseURL) == "" {
		in.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(in.BaseURL)
	if err != nil {
		return in, fmt.Errorf("baseUrl: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return in, fmt.Errorf("baseUrl: %q is not an absolute URL", in.BaseURL)
	}
	in.BaseURL = strings.TrimRight(in.BaseURL, "/")

	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return in, fmt.Errorf("email: %q is not a valid address", in.Email)
	}
	if in.Password == "" {
		return in, errors.New("password: must not be empty")
	}
	return in, nil
}
