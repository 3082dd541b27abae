package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunReport_Failed(t *testing.T) {
	cases := map[RunStatus]bool{
		RunSucceeded:    false,
		RunPartial:      false,
		RunFailedAtGate: true,
		RunFailed:       true,
	}
	for status, want := range cases {
		t.Run(string(status), func(t *testing.T) {
			assert.Equal(t, want, RunReport{Status: status}.Failed())
		})
	}
}
