package client

import "github.com/jmcleod/payrollportal/internal/util"

const credentialsRequired = "Username and password are required"

// Credentials are submitted once and never stored.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Normalize returns c with the username NFKC-normalized and trimmed. The
// password is left exactly as typed.
func (c Credentials) Normalize() Credentials {
	c.Username = util.NormalizeUsername(c.Username)
	return c
}

// Validate reports a KindValidation error when either field is empty.
func (c Credentials) Validate() error {
	if c.Username == "" || c.Password == "" {
		return opLogin.fail(KindValidation, 0, credentialsRequired, nil)
	}
	return nil
}
