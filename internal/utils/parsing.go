package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/iuriikogan/magnet-loop/internal/types"
)

// DoneMarker terminates the optimization when it ends the reply text.
const DoneMarker = "DONE"

// ErrUnparsableReply means the reply carries neither the done marker nor a parameter tuple.
var ErrUnparsableReply = errors.New("unparsable reply")

const decimal = `[-+]?(?:\d+(?:\.\d*)?|\.\d+)`

var tupleRegex = regexp.MustCompile(`\[\s*(\d+)\s*,\s*(` + decimal + `)\s*,\s*(` + decimal + `)\s*,\s*(` + decimal + `)\s*\]`)

// IsDone reports whether the trimmed text ends with the done marker.
func IsDone(text string) bool {
	return strings.HasSuffix(strings.TrimSpace(text), DoneMarker)
}

// FindParameterTuples returns every convertible [order, ell, rbendmin, t1] tuple in reading order.
func FindParameterTuples(text string) []types.OptimizerParameters {
	matches := tupleRegex.FindAllStringSubmatch(text, -1)
	var tuples []types.OptimizerParameters
	for _, m := range matches {
		p, err := tupleFromMatch(m)
		if err != nil {
			continue
		}
		tuples = append(tuples, p)
	}
	return tuples
}

// ParseResponse maps the final reply text to a Response. The done marker takes
// precedence over any tuple; otherwise the last tuple wins.
func ParseResponse(text string) (types.Response, error) {
	if IsDone(text) {
		return types.TerminalResponse(), nil
	}

	matches := tupleRegex.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return types.Response{}, fmt.Errorf("%w: no %s marker and no [order, ell, rbendmin, t1] tuple", ErrUnparsableReply, DoneMarker)
	}
	last := matches[len(matches)-1]
	params, err := tupleFromMatch(last)
	if err != nil {
		return types.Response{}, fmt.Errorf("%w: tuple %s: %w", ErrUnparsableReply, last[0], err)
	}
	return types.ParametersResponse(params), nil
}

func tupleFromMatch(m []string) (types.OptimizerParameters, error) {
	order, err := strconv.Atoi(m[1])
	if err != nil {
		return types.OptimizerParameters{}, err
	}
	var vals [3]float64
	for i := range vals {
		vals[i], err = strconv.ParseFloat(m[i+2], 64)
		if err != nil {
			return types.OptimizerParameters{}, err
		}
	}
	return types.OptimizerParameters{Order: order, Ell: vals[0], RBendMin: vals[1], T1: vals[2]}, nil
}
