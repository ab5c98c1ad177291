/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package options loads operator overrides for engine defaults (int64,
// bool and byte-size values such as chunk size and max buffered line
// length) from the environment, so a JSON merge config never has to carry operational
// tuning alongside indexing semantics.
package options

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/inhies/go-bytesize"
)

var (
	ErrInvalidArg = errors.New("options: invalid arguments")
	errNoEnvArg   = errors.New("options: no env arg")
)

// LoadEnvVarInt64 fills *cnd from envName, or leaves it at defVal if
// envName is unset. *cnd is only touched when it is still its zero value,
// so an explicit caller-set value is never clobbered.
func LoadEnvVarInt64(cnd *int64, envName string, defVal int64) error {
	if cnd == nil {
		return ErrInvalidArg
	}
	if *cnd != 0 {
		return nil
	}
	argstr, err := loadEnv(envName)
	if err == errNoEnvArg {
		*cnd = defVal
		return nil
	}
	if err != nil {
		return err
	}
	v, err := ParseInt64(argstr)
	if err != nil {
		return err
	}
	*cnd = v
	return nil
}

// LoadEnvVarBool fills *cnd from envName the same way.
func LoadEnvVarBool(cnd *bool, envName string, defVal bool) error {
	if cnd == nil {
		return ErrInvalidArg
	}
	if *cnd {
		return nil
	}
	argstr, err := loadEnv(envName)
	if err == errNoEnvArg {
		*cnd = defVal
		return nil
	}
	if err != nil {
		return err
	}
	v, err := ParseBool(argstr)
	if err != nil {
		return err
	}
	*cnd = v
	return nil
}

// LoadEnvVarSize fills *cnd (a byte-size quantity, e.g. MaxLine) from
// envName, accepting human-readable forms like "8MB" via go-bytesize.
func LoadEnvVarSize(cnd *bytesize.ByteSize, envName string, defVal bytesize.ByteSize) error {
	if cnd == nil {
		return ErrInvalidArg
	}
	if *cnd != 0 {
		return nil
	}
	argstr, err := loadEnv(envName)
	if err == errNoEnvArg {
		*cnd = defVal
		return nil
	}
	if err != nil {
		return err
	}
	v, err := bytesize.Parse(argstr)
	if err != nil {
		return err
	}
	*cnd = v
	return nil
}

func loadEnv(nm string) (string, error) {
	if s, ok := os.LookupEnv(nm); ok {
		return s, nil
	}
	return "", errNoEnvArg
}

// ParseBool accepts a permissive vocabulary: true/t/yes/y/1 and
// false/f/no/n/0, case-insensitively.
func ParseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	}
	return false, ErrInvalidArg
}

// ParseInt64 accepts decimal or 0x-prefixed hexadecimal.
func ParseInt64(v string) (int64, error) {
	if strings.HasPrefix(v, "0x") {
		return strconv.ParseInt(strings.TrimPrefix(v, "0x"), 16, 64)
	}
	return strconv.ParseInt(v, 10, 64)
}
