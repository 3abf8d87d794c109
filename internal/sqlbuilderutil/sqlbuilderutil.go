package sqlbuilderutil

import (
	"fmt"
	"strings"

	"fknsrs.biz/p/reflectutil"
	"fknsrs.biz/p/sqlbuilder"

	"fknsrs.biz/p/ytcampaigns/internal/stringutil"
)

// Table is a sqlbuilder table whose columns can also be found by Go field
// name, in any case, as well as by column name.
type Table struct {
	*sqlbuilder.Table
	nameMap map[string]string
}

func (t *Table) C(name string) *sqlbuilder.BasicColumn {
	if columnName, ok := t.Lookup(name); ok {
		name = columnName
	}

	return t.Table.C(name)
}

// Lookup resolves name to a column name, reporting whether the table has it.
func (t *Table) Lookup(name string) (string, bool) {
	if columnName, ok := t.nameMap[name]; ok {
		return columnName, true
	}

	if columnName, ok := t.nameMap[strings.ToLower(name)]; ok {
		return columnName, true
	}

	return "", false
}

// Column is C for names that must exist on the table.
func (t *Table) Column(name string) (*sqlbuilder.BasicColumn, bool) {
	columnName, ok := t.Lookup(name)
	if !ok {
		return nil, false
	}

	return t.Table.C(columnName), true
}

func MakeTable(v interface{}) (*Table, error) {
	s, err := reflectutil.GetDescription(v)
	if err != nil {
		return nil, fmt.Errorf("sqlbuilderutil.MakeTable: could not get struct description: %w", err)
	}

	var tableName string
	var columnNames []string

	nameMap := make(map[string]string)

	for _, f := range s.Fields().WithoutTagValue("sql", "-") {
		var columnName string

		sqlTag := f.Tag("sql")

		if sqlTag != nil && sqlTag.Value() != "" {
			columnName = sqlTag.Value()
		} else {
			columnName = stringutil.PascalToSnake(f.Name())
		}

		columnNames = append(columnNames, columnName)

		nameMap[f.Name()] = columnName
		nameMap[strings.ToLower(f.Name())] = columnName
		nameMap[columnName] = columnName

		if sqlTag != nil {
			if tableParameter := sqlTag.Parameter("table"); tableParameter != nil {
				tableName = tableParameter.Value()
			}
		}
	}

	if tableName == "" {
		tableName = stringutil.PascalToSnake(s.Name())
	}

	return &Table{
		Table:   sqlbuilder.NewTable(tableName, columnNames...),
		nameMap: nameMap,
	}, nil
}

func MustMakeTable(v interface{}) *Table {
	t, err := MakeTable(v)
	if err != nil {
		panic(err)
	}
	return t
}
