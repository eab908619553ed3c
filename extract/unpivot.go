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
package extract

import "strings"

// Cell is one value of a wide table addressed by its row label and column
// period
type Cell struct {
	Label  string
	Period string
	Raw    string
}

// Unpivot converts a label×period matrix into long format. The first column
// of every row is the label and header[i] names the period of column i; the
// caption of the label column is ignored. Rows without a label and columns
// without a caption are skipped. Cells are returned row by row in column
// order.
func Unpivot(header []string, rows [][]string) []Cell {
	if len(header) < 2 {
		return nil
	}

	cells := make([]Cell, 0, len(rows)*(len(header)-1))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}

		label := strings.TrimSpace(row[0])
		if label == "" {
			continue
		}

		for col := 1; col < len(header); col++ {
			period := strings.TrimSpace(header[col])
			if period == "" {
				continue
			}

			raw := ""
			if col < len(row) {
				raw = row[col]
			}

			cells = append(cells, Cell{
				Label:  label,
				Period: period,
				Raw:    raw,
			})
		}
	}

	return cells
}
