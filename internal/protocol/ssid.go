package protocol

import "encoding/base64"

// DecodeSSID decodes the base64-encoded network name the firmware reports
// in its system digest. Firmware older than the encoding change reports the
// name in the clear; anything that does not decode cleanly is returned
// unchanged.
func DecodeSSID(ssid string) string {
	decoded, err := base64.StdEncoding.DecodeString(ssid)
	if err != nil || len(decoded) == 0 {
		return ssid
	}
	return string(decoded)
}
