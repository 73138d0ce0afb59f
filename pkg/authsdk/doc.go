// Package authsdk provides a Go client for the examforge auth service.
//
// The package serves two audiences. Server handlers use the shared
// request/response types and the AuthError definitions to keep the wire
// contract in one place. External callers use Client and Session to talk
// to a running service:
//
//	client := authsdk.NewClient("http://localhost:8080")
//
//	session, err := client.Login(ctx, "alice@example.com", "password123")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	me, err := session.Me(ctx)
//
// Session transparently refreshes the access token when it expires, using
// the rotating refresh token from the login response.
package authsdk
