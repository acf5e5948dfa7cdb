package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// Validation constants
	MaxPeerIDLength   = 64
	MaxEndpointLength = 256
	MaxTableFilters   = 1000

	// Peer ids become path segments and prefix recovered queue names, so
	// no slashes and no hyphens (the hyphen separates queue id from
	// provenance servers).
	peerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.]*$`)
)

func init() {
	validate = validator.New()

	// Domain tags usable from struct definitions in other packages.
	validate.RegisterValidation("peerid", func(fl validator.FieldLevel) bool {
		return ValidatePeerID(fl.Field().String()) == nil
	})
	validate.RegisterValidation("clusterkey", func(fl validator.FieldLevel) bool {
		return ValidateClusterKey(fl.Field().String()) == nil
	})
}

// ValidatePeerID validates a replication peer identifier
func ValidatePeerID(id string) error {
	if id == "" {
		return errors.New("peer id cannot be empty")
	}
	if len(id) > MaxPeerIDLength {
		return fmt.Errorf("peer id '%s' exceeds maximum length of %d characters", id, MaxPeerIDLength)
	}
	if !peerIDPattern.MatchString(id) {
		return fmt.Errorf("peer id '%s' is invalid (must start with an alphanumeric, followed by alphanumerics, underscores or dots)", id)
	}
	return nil
}

// ValidateClusterKey validates a remote cluster key of the form
// "hostname1,hostname2:port:/rootpath"
func ValidateClusterKey(key string) error {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return fmt.Errorf("cluster key '%s' must have the form host1,host2:port:/rootpath", key)
	}

	hosts, port, root := parts[0], parts[1], parts[2]
	if hosts == "" {
		return fmt.Errorf("cluster key '%s' has an empty host list", key)
	}
	for _, h := range strings.Split(hosts, ",") {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("cluster key '%s' has an empty host entry", key)
		}
	}

	if port == "" {
		return fmt.Errorf("cluster key '%s' has an empty port", key)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("cluster key '%s' has an invalid port '%s'", key, port)
	}

	if !strings.HasPrefix(root, "/") {
		return fmt.Errorf("cluster key '%s' has a root path that does not start with '/'", key)
	}
	if root == "/" {
		return fmt.Errorf("cluster key '%s' has an empty root path", key)
	}
	return nil
}

// ValidateStruct validates any struct carrying `validate` tags, including
// the peerid and clusterkey domain tags
func ValidateStruct(v any) error {
	if v == nil {
		return errors.New("value cannot be nil")
	}
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateTableFilters validates a per-table column family filter map
func ValidateTableFilters(filters map[string][]string) error {
	if len(filters) > MaxTableFilters {
		return fmt.Errorf("maximum %d table filters allowed, got %d", MaxTableFilters, len(filters))
	}
	for table, families := range filters {
		if table == "" {
			return errors.New("table filter key cannot be empty")
		}
		for _, cf := range families {
			if cf == "" {
				return fmt.Errorf("table '%s' has an empty column family entry", table)
			}
		}
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Field()
		tag := e.Tag()
		param := e.Param()

		switch tag {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "peerid":
			return fmt.Errorf("%s: not a valid peer id", field)
		case "clusterkey":
			return fmt.Errorf("%s: not a valid cluster key", field)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, tag)
		}
	}

	return err
}
