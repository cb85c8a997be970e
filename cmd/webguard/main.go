// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the webguard server.
package main

import (
	"os"

	"github.com/stacklok/webguard/cmd/webguard/app"
	"github.com/stacklok/webguard/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
