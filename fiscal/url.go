/*
url.go - Deterministic receipt view URL construction

PURPOSE:
  When the provider returns the fiscal identifier triple (fn/fd/fp)
  instead of a direct link, the public receipt URL is constructed
  locally. The format is fixed by the provider's documentation and
  must not change: stored URLs are handed out to end users.
*/
package fiscal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// receiptViewBase is the provider's documented public viewer host.
const receiptViewBase = "https://receipt.fiscal-gate.ru"

// BuildReceiptViewURL constructs the public view URL for a receipt
// from its fiscal identifiers:
//
//	{base}/rec/{fn}/{fd}/{fp}
//
// Pure and deterministic; used whenever the provider supplies fn/fd/fp
// without a direct URL.
func BuildReceiptViewURL(fn, fd, fp string) string {
	return fmt.Sprintf("%s/rec/%s/%s/%s", receiptViewBase, fn, fd, fp)
}

// Fingerprint returns a short stable fingerprint of a provider token,
// safe to store on sale records for operator-side correlation.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}
