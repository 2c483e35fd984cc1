/*
Package accountsdk is a Go client for the accounts service.

# Client vs Session

Client covers the unauthenticated endpoints and logs a device in:

	client := accountsdk.NewClient("https://accounts.example.com")

	session, err := client.Login(ctx, accountsdk.LoginRequest{
		Email:    "alice@example.com",
		Password: password,
	})
	if accountsdk.HasCode(err, accountsdk.ErrorCodeSecondFactorRequired) {
		session, err = client.LoginWithSecondFactor(ctx, accountsdk.SecondFactorLoginRequest{
			LoginRequest: req,
			Code:         totpCode,
		})
	}

Session covers everything that needs an access token:

	devices, err := session.ListSessions(ctx)
	n, err := session.TerminateOtherSessions(ctx)

# Token refresh

Access tokens are refreshed 30 seconds before they expire. Refresh tokens
rotate on every use and a spent token is rejected, which also ends the
session on the server; share a Session between goroutines rather than
copying its refresh token.

# Errors

Every non-2xx response is returned as *Error. Lockouts carry RetryAfter,
as do 429 responses from a rate limiting proxy in front of the service.
*/
package accountsdk
