package main

import (
	"context"
	"errors"
	"fmt"
)

const tandCVersion = "1"

// runRegister accepts the terms and registers every seeded address. Already
// registered addresses surface as non-2xx and are counted, not fatal.
func runRegister(ctx context.Context, cfg Config) int {
	if cfg.AddressFile == "" {
		logger.Error("mining.address_file is required for registration")
		return exitFatal
	}
	addresses, err := loadAddressFile(cfg.AddressFile)
	if err != nil {
		logger.Error("load address file", "path", cfg.AddressFile, "error", err)
		return exitFatal
	}

	api := newMineAPIClient(cfg.MineAPIBaseURL)
	tandc, err := api.TandC(ctx, tandCVersion)
	if err != nil {
		logger.Error("fetch terms and conditions", "error", err)
		return exitFatal
	}
	if tandc.Message == "" {
		logger.Error("terms response carried no message to sign", "version", tandc.Version)
		return exitFatal
	}
	logger.Info("signing terms", "version", tandc.Version, "addresses", len(addresses))

	signer := newExecSigner(cfg.SignerBinaryPath)
	registered, failed := 0, 0
	for _, address := range addresses {
		if err := registerOne(ctx, api, signer, address, tandc.Message); err != nil {
			failed++
			logger.Warn("registration failed", "address", shortAddress(address), "error", err)
			continue
		}
		registered++
	}
	logger.Info("registration finished", "registered", registered, "failed", failed)
	if registered == 0 && failed > 0 {
		return exitFatal
	}
	return exitOK
}

func registerOne(ctx context.Context, api *mineAPIClient, signer signerProvider, address, message string) error {
	signed, err := signer.Sign(ctx, address, message)
	if err != nil {
		return err
	}
	if _, err := api.Register(ctx, address, signed.Signature, signed.PubKey); err != nil {
		return err
	}
	return nil
}

// runDonate signs and submits one donation redirect. 403 means the window
// has not opened yet; the caller just retries later.
func runDonate(ctx context.Context, cfg Config, destination, original string) int {
	if destination == "" || original == "" {
		logger.Error("donate requires -destination and -original")
		return exitFatal
	}
	if !validMiningAddress(destination) || !validMiningAddress(original) {
		logger.Error("donate: malformed address", "destination", destination, "original", original)
		return exitFatal
	}

	api := newMineAPIClient(cfg.MineAPIBaseURL)
	signer := newExecSigner(cfg.SignerBinaryPath)

	message := fmt.Sprintf("donate_to %s", destination)
	signed, err := signer.Sign(ctx, original, message)
	if err != nil {
		logger.Error("sign donation", "error", err)
		return exitFatal
	}

	receipt, err := api.DonateTo(ctx, destination, original, signed.Signature)
	if errors.Is(err, errDonationWindowClosed) {
		logger.Warn("donation window not open yet; try again later")
		return exitFatal
	}
	if err != nil {
		logger.Error("donation failed", "error", err)
		return exitFatal
	}
	logger.Info("donation recorded", "destination", shortAddress(destination), "timestamp", receipt.Timestamp)
	return exitOK
}
