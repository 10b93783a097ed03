package main

import (
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/martinhoefling/goxkcdpwgen/xkcdpwgen"
)

const adminCodeTTL = 10 * time.Minute

func generateAdminCode() string {
	g := xkcdpwgen.NewGenerator()
	g.SetNumWords(3)
	g.SetCapitalize(false)
	g.SetDelimiter("-")
	return strings.TrimSpace(g.GeneratePasswordString())
}

// adminCodeGate holds the one-time access code printed at startup. The
// operator exchanges it once for a session token; after that the code is
// spent and a new one is minted for the next exchange.
type adminCodeGate struct {
	mu        sync.Mutex
	code      string
	expiresAt time.Time
	clk       clock
}

func newAdminCodeGate(clk clock) *adminCodeGate {
	if clk == nil {
		clk = systemClock{}
	}
	g := &adminCodeGate{clk: clk}
	g.rotateLocked()
	return g
}

func (g *adminCodeGate) rotateLocked() {
	g.code = generateAdminCode()
	g.expiresAt = g.clk.Now().Add(adminCodeTTL)
	logger.Info("status admin one-time code", "code", g.code, "expires", g.expiresAt.Format(time.RFC3339))
}

// redeem consumes the code when it matches and is unexpired.
func (g *adminCodeGate) redeem(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clk.Now().After(g.expiresAt) {
		g.rotateLocked()
		return false
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(g.code)) != 1 {
		return false
	}
	g.rotateLocked()
	return true
}
