// Package authz holds the local, side-effect free check every protocol entry
// point runs before touching state or talking to anyone: the configured BNO
// must be one the node is willing to trust.
package authz

import (
	"fmt"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

// UntrustedBNOError is returned when the configured BNO is not whitelisted.
type UntrustedBNOError struct {
	BNO       identity.Name
	Whitelist []identity.Name
}

func (e *UntrustedBNOError) Error() string {
	if e.BNO == "" {
		return "no trusted BNO configured"
	}
	return fmt.Sprintf("BNO %s is not in the whitelist %v", e.BNO, e.Whitelist)
}

// Code lets the error cross a session with its fields intact.
func (e *UntrustedBNOError) Code() string {
	return "authz.untrusted-bno"
}

// BNOConfig is the part of the node configuration the check needs.
type BNOConfig interface {
	CurrentBNO() identity.Name
	WhitelistedBNOs() []identity.Name
}

// CheckBNOWhitelisted fails closed: an empty BNO or whitelist is untrusted.
func CheckBNOWhitelisted(bno identity.Name, whitelist []identity.Name) error {
	if bno != "" {
		for _, w := range whitelist {
			if w == bno {
				return nil
			}
		}
	}
	return &UntrustedBNOError{
		BNO:       bno,
		Whitelist: append([]identity.Name(nil), whitelist...),
	}
}

func Check(cfg BNOConfig) error {
	return CheckBNOWhitelisted(cfg.CurrentBNO(), cfg.WhitelistedBNOs())
}
