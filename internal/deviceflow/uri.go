package deviceflow

import (
	"net/url"
	"path"

	"github.com/wrale/device-grant/internal/validation"
)

// verificationPath is where the verification handler is mounted under the base URL
const verificationPath = "device"

// verificationURIs returns verification_uri and verification_uri_complete
// (RFC 8628 sections 3.2 and 3.3.1) for a canonical user code. The complete
// URI carries the code in display form and is omitted when the code does not
// validate. Both are empty if baseURL does not parse.
func verificationURIs(baseURL, userCode string) (uri, complete string) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", ""
	}
	u.Path = path.Join("/", u.Path, verificationPath)
	uri = u.String()

	if validation.ValidateUserCode(userCode) != nil {
		return uri, ""
	}
	u.RawQuery = url.Values{"code": {validation.FormatCode(validation.NormalizeCode(userCode))}}.Encode()
	return uri, u.String()
}
