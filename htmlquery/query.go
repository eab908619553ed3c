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

// Package htmlquery exposes the handful of HTML lookups the extractor needs
// (find by id, first table within a node, child elements) without leaking the
// underlying parser's API.
package htmlquery

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is the root of a parsed page
type Document interface {
	// ByID returns the element carrying the given id attribute
	ByID(id string) (Node, bool)
}

// Node is a single element in a parsed page
type Node interface {
	// Find returns all descendants matching the CSS selector
	Find(selector string) []Node

	// First returns the first descendant matching the CSS selector
	First(selector string) (Node, bool)

	// FirstTable parses the first <table> below the node
	FirstTable() (*Table, bool)

	// Text returns the node text with whitespace collapsed
	Text() string
}

// Table is a parsed HTML table. Header holds the column captions and each row
// holds one cell per column (short rows are padded with empty cells).
type Table struct {
	Header []string
	Rows   [][]string
}

// HTMLDocument is a Document backed by goquery
type HTMLDocument struct {
	doc *goquery.Document
}

// Parse reads an HTML page
func Parse(html string) (*HTMLDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	return &HTMLDocument{doc: doc}, nil
}

func (htmlDoc *HTMLDocument) ByID(id string) (Node, bool) {
	sel := htmlDoc.doc.Find(fmt.Sprintf("[id=%q]", id)).First()
	if sel.Length() == 0 {
		return nil, false
	}

	return &selectionNode{sel: sel}, true
}

type selectionNode struct {
	sel *goquery.Selection
}

func (node *selectionNode) Find(selector string) []Node {
	matches := node.sel.Find(selector)
	nodes := make([]Node, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, &selectionNode{sel: s})
	})
	return nodes
}

func (node *selectionNode) First(selector string) (Node, bool) {
	sel := node.sel.Find(selector).First()
	if sel.Length() == 0 {
		return nil, false
	}
	return &selectionNode{sel: sel}, true
}

func (node *selectionNode) Text() string {
	return CollapseSpace(node.sel.Text())
}

func (node *selectionNode) FirstTable() (*Table, bool) {
	tbl := node.sel.Find("table").First()
	if tbl.Length() == 0 {
		return nil, false
	}

	return parseTable(tbl), true
}

func parseTable(tbl *goquery.Selection) *Table {
	table := &Table{}

	var body *goquery.Selection
	if head := tbl.Find("thead tr"); head.Length() > 0 {
		table.Header = rowCells(head.Last())
		body = tbl.Find("tbody tr")
	} else {
		allRows := tbl.Find("tr")
		if allRows.Length() == 0 {
			return table
		}
		table.Header = rowCells(allRows.First())
		body = allRows.Slice(1, goquery.ToEnd)
	}

	width := len(table.Header)
	body.Each(func(_ int, row *goquery.Selection) {
		cells := rowCells(row)
		if len(cells) == 0 {
			return
		}
		for len(cells) < width {
			cells = append(cells, "")
		}
		table.Rows = append(table.Rows, cells)
	})

	return table
}

func rowCells(row *goquery.Selection) []string {
	cells := make([]string, 0, 16)
	row.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, CollapseSpace(cell.Text()))
	})
	return cells
}

// CollapseSpace trims text and folds every run of whitespace (including
// non-breaking spaces) into a single space
func CollapseSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
