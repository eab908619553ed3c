// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watchlist loads the tickers that scheduled and batch ingestion runs
// work through.
package watchlist

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Watchlist struct {
	Name    string   `yaml:"name"`
	Tickers []string `yaml:"tickers"`
}

// Load reads a watchlist file. YAML files (.yaml, .yml) hold either a list of
// tickers or a map with name and tickers; any other file is read as one ticker
// per line with # comments.
func Load(path string) (*Watchlist, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var list *Watchlist
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		list, err = parseYAML(contents)
		if err != nil {
			return nil, fmt.Errorf("parse yaml %s: %w", path, err)
		}
	default:
		list = parseLines(contents)
	}

	if strings.TrimSpace(list.Name) == "" {
		list.Name = name
	}
	list.Tickers = Clean(list.Tickers)

	return list, nil
}

func parseYAML(contents []byte) (*Watchlist, error) {
	var tickers []string
	if err := yaml.Unmarshal(contents, &tickers); err == nil {
		return &Watchlist{Tickers: tickers}, nil
	}

	list := &Watchlist{}
	if err := yaml.Unmarshal(contents, list); err != nil {
		return nil, err
	}

	return list, nil
}

func parseLines(contents []byte) *Watchlist {
	list := &Watchlist{}

	scanner := bufio.NewScanner(bytes.NewReader(contents))
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		for _, field := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			list.Tickers = append(list.Tickers, field)
		}
	}

	return list
}

// Tickers combines explicit tickers with those of the watchlist at path.
// An empty path adds nothing.
func Tickers(tickers []string, path string) ([]string, error) {
	combined := append([]string{}, tickers...)

	if path != "" {
		list, err := Load(path)
		if err != nil {
			return nil, fmt.Errorf("load watchlist %s: %w", path, err)
		}
		combined = append(combined, list.Tickers...)
	}

	return Clean(combined), nil
}

// Clean trims and upper-cases tickers, dropping blanks and repeats while
// keeping the original order
func Clean(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	cleaned := make([]string, 0, len(tickers))

	for _, ticker := range tickers {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true
		cleaned = append(cleaned, ticker)
	}

	return cleaned
}
