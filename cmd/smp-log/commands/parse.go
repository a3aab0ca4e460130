// Package commands implements the smp-log CLI commands.
package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mash-protocol/blesmp/pkg/log"
)

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "channel":
		return log.LayerChannel, nil
	case "engine":
		return log.LayerEngine, nil
	case "keydist":
		return log.LayerKeyDist, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be channel, engine, or keydist)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "pdu":
		return log.CategoryPDU, nil
	case "state":
		return log.CategoryState, nil
	case "key":
		return log.CategoryKey, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be pdu, state, key, or error)", s)
	}
}

// ParseOpcodeFlag parses an opcode given in decimal or as 0x-prefixed hex.
func ParseOpcodeFlag(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid opcode: %s", s)
	}
	return uint8(v), nil
}

func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
