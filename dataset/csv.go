// Copyright 2025 gorse Project Authors
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

package dataset

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/juju/errors"
)

// LoadCSV loads interactions from a CSV file. Columns are
// user_id, item_id and optionally weight and timestamp.
func LoadCSV(path, sep string, hasHeader bool) ([]Interaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return ReadCSV(file, sep, hasHeader)
}

// ReadCSV parses interactions from a reader in the format of LoadCSV.
func ReadCSV(r io.Reader, sep string, hasHeader bool) ([]Interaction, error) {
	var (
		interactions []Interaction
		parseErr     error
	)
	sc := bufio.NewScanner(r)
	err := ReadLines(sc, sep, func(lineNumber int, fields []string) bool {
		if hasHeader && lineNumber == 0 {
			return true
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			return true
		}
		var interaction Interaction
		interaction, parseErr = parseInteraction(fields)
		if parseErr != nil {
			parseErr = errors.Annotatef(parseErr, "line %d", lineNumber+1)
			return false
		}
		interactions = append(interactions, interaction)
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return interactions, nil
}

func parseInteraction(fields []string) (Interaction, error) {
	var (
		interaction Interaction
		err         error
	)
	if len(fields) < 2 {
		return interaction, errors.NotValidf("%d fields", len(fields))
	}
	if interaction.UserId, err = strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64); err != nil {
		return interaction, errors.NotValidf("user id %q", fields[0])
	}
	if interaction.ItemId, err = strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64); err != nil {
		return interaction, errors.NotValidf("item id %q", fields[1])
	}
	if len(fields) > 2 && strings.TrimSpace(fields[2]) != "" {
		weight, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 32)
		if err != nil {
			return interaction, errors.NotValidf("weight %q", fields[2])
		}
		interaction.Weight = float32(weight)
	}
	if len(fields) > 3 && strings.TrimSpace(fields[3]) != "" {
		if interaction.Timestamp, err = dateparse.ParseAny(strings.TrimSpace(fields[3])); err != nil {
			return interaction, errors.NotValidf("timestamp %q", fields[3])
		}
	}
	if err = Validate([]Interaction{interaction}); err != nil {
		return interaction, err
	}
	return interaction, nil
}

// ReadLines parse fields of each line for csv file.
func ReadLines(sc *bufio.Scanner, sep string, handler func(int, []string) bool) error {
	lineCount := 0               // line number of current position
	fields := make([]string, 0)  // fields for current line
	builder := strings.Builder{} // string builder for current field
	quoted := false              // whether current position in quote
	for sc.Scan() {
		// read line
		lineStr := sc.Text()
		line := []rune(lineStr)
		// start of line
		if quoted {
			builder.WriteString("\r\n")
		}
		// parse line
		for i := 0; i < len(line); i++ {
			if string(line[i]) == sep && !quoted {
				// end of field
				fields = append(fields, builder.String())
				builder.Reset()
			} else if line[i] == '"' {
				if quoted {
					if i+1 >= len(line) || line[i+1] != '"' {
						// end of quoted
						quoted = false
					} else {
						i++
						builder.WriteRune('"')
					}
				} else {
					// start of quoted
					quoted = true
				}
			} else {
				builder.WriteRune(line[i])
			}
		}
		// end of line
		if !quoted {
			fields = append(fields, builder.String())
			builder.Reset()
			if !handler(lineCount, fields) {
				return nil
			}
			fields = []string{}
		}
		// increase line count
		lineCount++
	}
	return sc.Err()
}
