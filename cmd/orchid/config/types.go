// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import "time"

type OrchidConfig struct {
	// Service: where the relay lives
	Service ServiceConfig `yaml:"service"`

	// Chat: defaults for the interactive chat loop
	Chat ChatConfig `yaml:"chat"`

	// Translate: defaults for one-shot translation
	Translate TranslateConfig `yaml:"translate"`
}

type ServiceConfig struct {
	URL            string `yaml:"url"`             // e.g. http://localhost:8000
	TimeoutSeconds int    `yaml:"timeout_seconds"` // ceiling for a single streamed response
}

type ChatConfig struct {
	DefaultModel string `yaml:"default_model"` // e.g. deepseek-r1:32b
}

type TranslateConfig struct {
	DefaultTarget string `yaml:"default_target"` // e.g. en
}

// Timeout returns the configured request ceiling, falling back to five
// minutes when the config carries no value.
func (s ServiceConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func DefaultConfig() OrchidConfig {
	return OrchidConfig{
		Service: ServiceConfig{
			URL:            "http://localhost:8000",
			TimeoutSeconds: 300,
		},
		Chat: ChatConfig{
			DefaultModel: "deepseek-r1:32b",
		},
		Translate: TranslateConfig{
			DefaultTarget: "en",
		},
	}
}
