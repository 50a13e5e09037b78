package natsconn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/transport"
)

func TestSubjectForUsesTargetWhenPresent(t *testing.T) {
	require.Equal(t, "corekit.route.core-7", subjectFor(transport.RouteInfo{Target: "core-7"}))
}

func TestSubjectForDefaultsToParent(t *testing.T) {
	require.Equal(t, "corekit.route.parent", subjectFor(transport.RouteInfo{}))
}
