package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	maxIDs := NewTablesIdInfo()
	maxIDs.Set("employees", 3)
	maxIDs.Set("departments", 5)
	addr := NodeAddress{IP: "127.0.0.1", Port: "5433"}

	cases := []Message{
		InitConnection(addr),
		Agreed(87.5, maxIDs),
		Denied(),
		AskMemoryUpdate(),
		MemoryUpdate(12.0, maxIDs),
		GetRouter(),
		RouterID(addr),
		NoRouterData(),
		Query(addr, "SELECT * FROM test_table WHERE id = 7;"),
		QueryResponse("id | name"),
	}

	for _, want := range cases {
		encoded, err := Encode(want)
		require.NoError(t, err)

		got, err := Decode(encoded)
		require.NoError(t, err)

		require.Equal(t, want.Type, got.Type)
		require.Equal(t, want.QueryText, got.QueryText)

		if want.Payload == nil {
			require.Nil(t, got.Payload)
		} else {
			require.NotNil(t, got.Payload)
			require.InDelta(t, *want.Payload, *got.Payload, 1e-9)
		}

		if want.NodeInfo == nil {
			require.Nil(t, got.NodeInfo)
		} else {
			require.Equal(t, *want.NodeInfo, *got.NodeInfo)
		}

		if want.MaxIDs == nil {
			require.Nil(t, got.MaxIDs)
		} else {
			require.Equal(t, want.MaxIDs.String(), got.MaxIDs.String())
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode("BOGUS None None None None\n")
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := Decode("AGREED not-a-number None None None\n")
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDecodeOversize(t *testing.T) {
	huge := make([]byte, MaxMessageSize+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err := Decode(string(huge))
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestTablesIdInfoOrderPreserved(t *testing.T) {
	info := NewTablesIdInfo()
	info.Set("b", 1)
	info.Set("a", 2)
	info.Set("b", 9)
	require.Equal(t, []string{"b", "a"}, info.Keys())
	v, ok := info.Get("b")
	require.True(t, ok)
	require.Equal(t, int64(9), v)
}

func TestQueryTailStopsAtSemicolon(t *testing.T) {
	m, err := Decode("QUERY None None 127.0.0.1:5433 SELECT * FROM t WHERE id = 1; -- trailing junk\n")
	require.NoError(t, err)
	require.Equal(t, "SELECT * FROM t WHERE id = 1;", m.QueryText)
}
