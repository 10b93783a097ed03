package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

type signedMessage struct {
	Signature string `json:"signature"`
	PubKey    string `json:"pubkey"`
}

// signerProvider signs Mine API messages on behalf of an address. Key
// material never enters this process; the production implementation shells
// out to the external signing tool that holds the wallet.
type signerProvider interface {
	Sign(ctx context.Context, address, message string) (*signedMessage, error)
}

type execSigner struct {
	binaryPath string
}

func newExecSigner(binaryPath string) *execSigner {
	return &execSigner{binaryPath: binaryPath}
}

// Sign hands the message to the signing tool via a temp file; the message
// must be signed verbatim and argv would mangle embedded newlines.
func (s *execSigner) Sign(ctx context.Context, address, message string) (*signedMessage, error) {
	msgFile, err := os.CreateTemp("", "nightcloud-sign-*.txt")
	if err != nil {
		return nil, err
	}
	defer os.Remove(msgFile.Name())
	if _, err := msgFile.WriteString(message); err != nil {
		msgFile.Close()
		return nil, err
	}
	if err := msgFile.Close(); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, s.binaryPath,
		"--address", address,
		"--message-file", msgFile.Name(),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("signer for %s: %w (stderr: %s)", shortAddress(address), err, truncateBody(stderr.Bytes()))
	}

	var signed signedMessage
	if err := fastJSONUnmarshal(bytes.TrimSpace(stdout.Bytes()), &signed); err != nil {
		return nil, fmt.Errorf("decode signer output: %w", err)
	}
	if signed.Signature == "" || signed.PubKey == "" {
		return nil, fmt.Errorf("signer returned incomplete result for %s", shortAddress(address))
	}
	return &signed, nil
}
