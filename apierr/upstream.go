package apierr

import "encoding/json"

// maxUpstreamTextLen bounds how much of a non-JSON upstream body we echo
// back to the client.
const maxUpstreamTextLen = 500

// ParseUpstreamMessage best-effort extracts a human-readable message (and,
// where present, a vendor-supplied type string) from an upstream error
// body. It recognizes, in order:
//
//	{"error":{"message":"...","type":"..."}}
//	{"error":{"message":"..."}}
//	{"message":"..."}
//	{"error":"..."}
//	{"detail":[{"msg":"..."}]}
//
// Anything else is treated as opaque text and truncated to 500 bytes.
func ParseUpstreamMessage(body []byte) (message, vendorType string) {
	if len(body) == 0 {
		return "", ""
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message, nested.Error.Type
	}

	var flat struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Message != "" {
		return flat.Message, ""
	}

	var errString struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errString) == nil && errString.Error != "" {
		return errString.Error, ""
	}

	var detail struct {
		Detail []struct {
			Msg string `json:"msg"`
		} `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil && len(detail.Detail) > 0 && detail.Detail[0].Msg != "" {
		return detail.Detail[0].Msg, ""
	}

	text := string(body)
	if len(text) > maxUpstreamTextLen {
		text = text[:maxUpstreamTextLen]
	}
	return text, ""
}
