// Package cloud implements the signed HTTP client for the Meross vendor API.
//
// Every call is a POST whose body wraps the operation parameters in the
// vendor envelope: the params are JSON-encoded, base64-encoded and signed
// with MD5(secret || timestamp || nonce || params). Responses arrive as
// {apiStatus, info, data}; apiStatus 0 is success and non-zero statuses are
// mapped onto typed errors.
//
// # Operations
//
//   - Login          /v1/Auth/signIn       -> Credentials
//   - ListDevices    /v1/Device/devList    -> []DeviceDescriptor
//   - ListSubDevices /v1/Hub/getSubDevices -> []SubDeviceDescriptor
//   - Logout         /v1/Profile/logout
//   - LogActivity    /log/user             (fire-and-forget)
//
// # Domain redirects
//
// apiStatus 1030 means the account lives in a different region. When the
// response carries the replacement domains and auto-redirect is enabled the
// client updates its API and MQTT domains together and retries the same
// request, up to the configured cap. Past the cap the BAD_DOMAIN error is
// returned to the caller with both domains attached.
//
// # Usage
//
//	client := cloud.New(cfg.HTTP, cfg.Account.APIBaseURL, logger, recorder)
//	creds, err := client.Login(ctx, email, password, "")
//	if err != nil {
//	    return err
//	}
//	devices, err := client.ListDevices(ctx)
package cloud
