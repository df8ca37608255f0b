package ckv

import (
	"testing"

	"github.com/nodekv/ckv/internal/proto"
	"github.com/stretchr/testify/require"
)

func TestDefaultRouteUsesByKeyAutoForKeyedCommands(t *testing.T) {
	c := &Client{}
	spec := c.defaultRoute(Get("user:1"))

	require.NotNil(t, spec.route.SlotKey)
	require.Equal(t, "user:1", spec.route.SlotKey.SlotKey)
	require.Equal(t, proto.SlotTypeUnspecified, spec.route.SlotKey.SlotType)
}

func TestDefaultRouteFallsBackToRandomForKeylessCommands(t *testing.T) {
	c := &Client{}
	spec := c.defaultRoute(Ping())

	require.NotNil(t, spec.route.Simple)
	require.Equal(t, proto.SimpleRouteRandom, *spec.route.Simple)
}

func TestBuildRequestCarriesCommandAndRoute(t *testing.T) {
	c := &Client{}
	req := c.buildRequest(Set("k", "v"), ByKey("k", false))

	require.Equal(t, "SET", req.Single.RequestType)
	require.Equal(t, [][]byte{[]byte("k"), []byte("v")}, req.Single.Args)
	require.NotNil(t, req.Route.SlotKey)
}

func TestRequestErrorToErrMapsExecAbort(t *testing.T) {
	err := requestErrorToErr(&proto.RequestError{Kind: proto.ErrorKindExecAbort, Message: "CROSSSLOT"})
	kind, ok := AsKind(err, KindExecAbort)
	require.True(t, ok)
	require.Equal(t, "CROSSSLOT", kind.Message)
}

func TestRequestErrorToErrDefaultsToKindRequest(t *testing.T) {
	err := requestErrorToErr(&proto.RequestError{Message: "WRONGTYPE"})
	_, ok := AsKind(err, KindRequest)
	require.True(t, ok)
}
