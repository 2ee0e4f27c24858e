// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
	"text/template"
)

type Format string

const (
	JsonFormat  Format = "json"
	TableFormat Format = "table"
)

var ErrUnsupportedFormat = errors.New("unsupported format")

type Formatter interface {
	Kind() Format
	Format(obj any, writer io.Writer, opts any) error
}

func NewFormatter(format string) (Formatter, error) {
	switch Format(format) {
	case JsonFormat:
		return &JsonFormatter{}, nil
	case TableFormat:
		return &TableFormatter{}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
}

type JsonFormatter struct {
}

func (f *JsonFormatter) Kind() Format {
	return JsonFormat
}

func (f *JsonFormatter) Format(obj any, writer io.Writer, _ any) error {
	b, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}

	if _, err := writer.Write(append(b, '\n')); err != nil {
		return err
	}

	return nil
}

// Column of a table. ValueTemplate is a text/template evaluated against each row.
type Column struct {
	Heading       string
	ValueTemplate string
}

type TableFormatterOptions struct {
	Columns []Column
}

// TableFormatter writes a slice of rows as aligned columns.
type TableFormatter struct {
}

func (f *TableFormatter) Kind() Format {
	return TableFormat
}

func (f *TableFormatter) Format(obj any, writer io.Writer, opts any) error {
	options, ok := opts.(TableFormatterOptions)
	if !ok || len(options.Columns) == 0 {
		return errors.New("table formatting requires columns")
	}

	rows := reflect.ValueOf(obj)
	if rows.Kind() != reflect.Slice {
		return fmt.Errorf("table formatting requires a slice, got %T", obj)
	}

	headings := make([]string, 0, len(options.Columns))
	templates := make([]string, 0, len(options.Columns))
	for _, c := range options.Columns {
		headings = append(headings, c.Heading)
		templates = append(templates, c.ValueTemplate)
	}

	row, err := template.New("row").Parse(strings.Join(templates, "\t") + "\n")
	if err != nil {
		return fmt.Errorf("parsing column templates: %w", err)
	}

	tabs := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tabs, strings.Join(headings, "\t")); err != nil {
		return err
	}

	for i := 0; i < rows.Len(); i++ {
		if err := row.Execute(tabs, rows.Index(i).Interface()); err != nil {
			return err
		}
	}

	return tabs.Flush()
}

var (
	_ Formatter = (*JsonFormatter)(nil)
	_ Formatter = (*TableFormatter)(nil)
)
