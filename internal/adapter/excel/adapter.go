// Package excel implements the tabular source adapter: a workbook upload
// with one sheet of users and one of departments, columns identified by the
// header row. The workbook is a local artifact, so this adapter performs no
// network I/O and is excluded from periodic scheduling.
package excel

import (
	"context"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter"
)

// Reserved user column headers; anything else becomes a raw property
// carried into extras by the field mapping.
const (
	columnCode        = "code"
	columnUsername    = "username"
	columnFullName    = "full_name"
	columnEmail       = "email"
	columnPhone       = "phone"
	columnLeaders     = "leaders"
	columnDepartments = "departments"
	columnName        = "name"
	columnParentCode  = "parent_code"
	columnOrder       = "order"
)

// listSeparator splits multi-valued cells such as leaders and departments.
const listSeparator = ","

// Config holds the workbook location and sheet names.
type Config struct {
	// Path is the filesystem location of the uploaded workbook.
	Path string `json:"path" validate:"required"`
	// UserSheet is the sheet holding user rows.
	UserSheet string `json:"user_sheet"`
	// DeptSheet is the sheet holding department rows.
	DeptSheet string `json:"dept_sheet"`
}

// SetDefaults fills the conventional sheet names.
func (c *Config) SetDefaults() {
	if c.UserSheet == "" {
		c.UserSheet = "users"
	}

	if c.DeptSheet == "" {
		c.DeptSheet = "departments"
	}
}

// Workbook is the tabular source adapter.
type Workbook struct {
	config *Config
}

// New creates a Workbook adapter from a validated configuration.
func New(config *Config) *Workbook {
	config.SetDefaults()

	return &Workbook{config: config}
}

// readSheet opens the workbook and returns the rows of the named sheet.
func (w *Workbook) readSheet(sheet string) ([][]string, error) {
	file, err := excelize.OpenFile(w.config.Path)
	if err != nil {
		return nil, adapter.NewFormatErrorCause("open workbook", err)
	}
	defer func() { _ = file.Close() }()

	rows, err := file.GetRows(sheet)
	if err != nil {
		return nil, adapter.NewFormatError("read sheet", "missing sheet "+sheet)
	}

	if len(rows) == 0 {
		return nil, adapter.NewFormatError("read sheet", "sheet "+sheet+" has no header row")
	}

	return rows, nil
}

// headerIndex maps normalized header names to their column position.
func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized != "" {
			index[normalized] = i
		}
	}

	return index
}

func cell(row []string, index map[string]int, column string) string {
	i, ok := index[column]
	if !ok || i >= len(row) {
		return ""
	}

	return strings.TrimSpace(row[i])
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, listSeparator)

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

// FetchUsers parses the user sheet into raw user records.
func (w *Workbook) FetchUsers(ctx context.Context) ([]adapter.RawUser, error) {
	rows, err := w.readSheet(w.config.UserSheet)
	if err != nil {
		return nil, err
	}

	index := headerIndex(rows[0])
	if _, ok := index[columnCode]; !ok {
		return nil, adapter.NewFormatError("parse users", "user sheet is missing the code column")
	}

	reserved := map[string]bool{
		columnCode: true, columnLeaders: true, columnDepartments: true,
	}

	users := make([]adapter.RawUser, 0, len(rows)-1)
	seen := make(map[string]int, len(rows)-1)

	for rowNum, row := range rows[1:] {
		code := cell(row, index, columnCode)
		if code == "" {
			// Blank lines at the bottom of a sheet are common, skip them.
			if strings.Join(row, "") == "" {
				continue
			}

			return nil, adapter.NewFormatError(
				"parse users",
				"row "+strconv.Itoa(rowNum+2)+" has no code",
			)
		}

		if first, dup := seen[code]; dup {
			return nil, adapter.NewFormatError(
				"parse users",
				"duplicate user code "+code+" (rows "+strconv.Itoa(first)+" and "+strconv.Itoa(rowNum+2)+")",
			)
		}

		seen[code] = rowNum + 2

		properties := map[string]string{}
		for column, i := range index {
			if reserved[column] || i >= len(row) {
				continue
			}

			properties[column] = strings.TrimSpace(row[i])
		}

		users = append(users, adapter.RawUser{
			Code:        code,
			Properties:  properties,
			Leaders:     splitList(cell(row, index, columnLeaders)),
			Departments: splitList(cell(row, index, columnDepartments)),
		})
	}

	return users, nil
}

// FetchDepartments parses the department sheet into raw department records.
func (w *Workbook) FetchDepartments(ctx context.Context) ([]adapter.RawDepartment, error) {
	rows, err := w.readSheet(w.config.DeptSheet)
	if err != nil {
		return nil, err
	}

	index := headerIndex(rows[0])
	if _, ok := index[columnCode]; !ok {
		return nil, adapter.NewFormatError("parse departments", "department sheet is missing the code column")
	}

	departments := make([]adapter.RawDepartment, 0, len(rows)-1)
	seen := make(map[string]int, len(rows)-1)

	for rowNum, row := range rows[1:] {
		code := cell(row, index, columnCode)
		if code == "" {
			if strings.Join(row, "") == "" {
				continue
			}

			return nil, adapter.NewFormatError(
				"parse departments",
				"row "+strconv.Itoa(rowNum+2)+" has no code",
			)
		}

		if first, dup := seen[code]; dup {
			return nil, adapter.NewFormatError(
				"parse departments",
				"duplicate department code "+code+" (rows "+strconv.Itoa(first)+" and "+strconv.Itoa(rowNum+2)+")",
			)
		}

		seen[code] = rowNum + 2

		order := rowNum + 1
		if rawOrder := cell(row, index, columnOrder); rawOrder != "" {
			parsed, errParse := strconv.Atoi(rawOrder)
			if errParse != nil {
				return nil, adapter.NewFormatError(
					"parse departments",
					"row "+strconv.Itoa(rowNum+2)+" has a non-numeric order",
				)
			}

			order = parsed
		}

		departments = append(departments, adapter.RawDepartment{
			Code:       code,
			Name:       cell(row, index, columnName),
			ParentCode: cell(row, index, columnParentCode),
			Order:      order,
		})
	}

	return departments, nil
}

// TestConnection verifies the workbook can be opened and both sheets exist.
func (w *Workbook) TestConnection(ctx context.Context) (*adapter.TestResult, error) {
	if _, err := w.readSheet(w.config.UserSheet); err != nil {
		return nil, err
	}

	if _, err := w.readSheet(w.config.DeptSheet); err != nil {
		return nil, err
	}

	return &adapter.TestResult{Message: "workbook parsed"}, nil
}
