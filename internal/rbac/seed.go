package rbac

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var seedColumns = []string{
	"id", "namespace", "name", "parent",
	"default_global", "default_event", "default_admin",
	"description", "access",
}

// ReadSeedFile opens path and parses it with ReadSeed.
func ReadSeedFile(path string) ([]Role, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open role seed: %w", err)
	}
	defer f.Close()
	return ReadSeed(f)
}

// ReadSeed parses the role seed CSV. The first line is a header naming the
// columns; column order is free. default_global marks the default role of the
// global namespace, default_event the one of the event namespace and
// default_admin the admin role of either.
func ReadSeed(r io.Reader) ([]Role, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("role seed is empty")
		}
		return nil, fmt.Errorf("read role seed header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range seedColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("role seed is missing column %q", col)
		}
	}

	var roles []Role
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read role seed line %d: %w", line, err)
		}
		field := func(col string) string { return strings.TrimSpace(rec[idx[col]]) }

		id, err := strconv.ParseInt(field("id"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("role seed line %d: invalid id %q", line, field("id"))
		}
		ns, err := ParseNamespace(field("namespace"))
		if err != nil {
			return nil, fmt.Errorf("role seed line %d: %w", line, err)
		}
		defGlobal, err := parseFlag(field("default_global"))
		if err != nil {
			return nil, fmt.Errorf("role seed line %d: default_global: %w", line, err)
		}
		defEvent, err := parseFlag(field("default_event"))
		if err != nil {
			return nil, fmt.Errorf("role seed line %d: default_event: %w", line, err)
		}
		defAdmin, err := parseFlag(field("default_admin"))
		if err != nil {
			return nil, fmt.Errorf("role seed line %d: default_admin: %w", line, err)
		}

		role := Role{
			ID:          id,
			Namespace:   ns,
			Name:        field("name"),
			Parent:      field("parent"),
			IsAdmin:     defAdmin,
			Description: field("description"),
			Access:      field("access"),
		}
		switch ns {
		case NamespaceGlobal:
			role.IsDefault = defGlobal
		case NamespaceEvent:
			role.IsDefault = defEvent
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "false", "no":
		return false, nil
	case "1", "true", "yes":
		return true, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
