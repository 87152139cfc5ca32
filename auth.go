package mqttclient

import (
	"context"
	"fmt"
	"sync"
)

// ClientEnhancedAuthContext carries one server step of an enhanced
// authentication exchange (v5).
type ClientEnhancedAuthContext struct {
	// AuthMethod is the authentication method named by the server.
	AuthMethod string

	// AuthData is the authentication data from the AUTH or CONNACK packet.
	AuthData []byte

	// ReasonCode is ReasonContinueAuth while the exchange goes on and
	// ReasonSuccess for the final data carried by CONNACK or AUTH.
	ReasonCode ReasonCode

	// State is whatever the authenticator returned from its previous step.
	State any
}

// ClientEnhancedAuthResult is the authenticator's answer to one step.
type ClientEnhancedAuthResult struct {
	// Done indicates authentication is complete (no more exchanges needed).
	Done bool

	// AuthData is authentication data to send to the server.
	AuthData []byte

	// State holds authenticator-specific state for the next exchange.
	State any
}

// ClientEnhancedAuthenticator runs the client side of v5 enhanced
// authentication. AuthStart supplies the data sent in CONNECT (or in the AUTH
// that starts a re-authentication); AuthContinue answers every AUTH with
// Continue Authentication and finally checks the data of the successful
// CONNACK or AUTH, where an error fails the operation.
type ClientEnhancedAuthenticator interface {
	// AuthMethod returns the authentication method name (e.g., "SCRAM-SHA-256").
	AuthMethod() string

	AuthStart(ctx context.Context) (*ClientEnhancedAuthResult, error)
	AuthContinue(ctx context.Context, authCtx *ClientEnhancedAuthContext) (*ClientEnhancedAuthResult, error)
}

// authExchange holds the enhanced auth state of one connection. The receive
// loop and Reauthenticate both drive it.
type authExchange struct {
	auth ClientEnhancedAuthenticator

	mu    sync.Mutex
	state any
}

// start runs AuthStart and remembers its state.
func (a *authExchange) start(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.auth.AuthStart(ctx)
	if err != nil {
		return nil, err
	}
	a.state = res.State
	return res.AuthData, nil
}

// step feeds server data to the authenticator and returns its reply.
func (a *authExchange) step(ctx context.Context, code ReasonCode, props *Properties) (*ClientEnhancedAuthResult, error) {
	if method := props.GetString(PropAuthenticationMethod); method != "" && method != a.auth.AuthMethod() {
		return nil, fmt.Errorf("%w: server used method %q", ErrAuthFailed, method)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.auth.AuthContinue(ctx, &ClientEnhancedAuthContext{
		AuthMethod: a.auth.AuthMethod(),
		AuthData:   props.GetBytes(PropAuthenticationData),
		ReasonCode: code,
		State:      a.state,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	a.state = res.State
	return res, nil
}

// authPacket builds the AUTH packet answering a step.
func (a *authExchange) authPacket(code ReasonCode, data []byte) *AuthPacket {
	p := &AuthPacket{ReasonCode: code}
	p.Props.Set(PropAuthenticationMethod, a.auth.AuthMethod())
	if len(data) > 0 {
		p.Props.Set(PropAuthenticationData, data)
	}
	return p
}
