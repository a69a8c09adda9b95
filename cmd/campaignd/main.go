// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command campaignd runs the testnet points campaign service and its
// maintenance tasks.
//
//	campaignd serve --config campaign.yaml
//	campaignd migrate
//	campaignd reconcile [--wallet 0x...]
//	campaignd tasks import tasks.yaml
//	campaignd roles grant 0x... operator
package main

import (
	"log"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.SetFlags(0)
		log.SetOutput(os.Stderr)
		log.Fatalf("campaignd: %v", err)
	}
}
