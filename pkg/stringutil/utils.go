// Package stringutil holds shared string helpers.
package stringutil

import (
	"crypto/sha1"
	"fmt"
	"io"
	"net/mail"
)

// HashAccountName accepts an account name and hashes it.  The file store
// uses the result as the account's directory name.
func HashAccountName(name string) string {
	h := sha1.New()
	if _, err := io.WriteString(h, name); err != nil {
		// This shouldn't ever happen
		return ""
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// StringAddress formats a single address, tolerating nil.
func StringAddress(a *mail.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// StringAddressList converts a list of addresses to a list of strings.
func StringAddressList(addrs []*mail.Address) []string {
	s := make([]string, len(addrs))
	for i, a := range addrs {
		if a != nil {
			s[i] = a.String()
		}
	}
	return s
}
