package console

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelnetFilterRefusesOptions(t *testing.T) {
	tr := &TelnetTransport{}
	in := []byte{
		telnetIAC, telnetDO, 1, // DO ECHO
		'l', 'o',
		telnetIAC, telnetWILL, 3, // WILL SGA
		'g', 0, 'i',
		telnetIAC, telnetSB, 24, 1, telnetIAC, telnetSE,
		'n', telnetIAC, telnetIAC, ':',
	}
	// 分两段送入，验证跨块状态保持
	data1, rep1 := tr.filter(in[:5])
	data2, rep2 := tr.filter(in[5:])

	assert.Equal(t, "lo", string(data1))
	assert.Equal(t, []byte{telnetIAC, telnetWONT, 1}, rep1)
	assert.Equal(t, "gin\xff:", string(data2))
	assert.Equal(t, []byte{telnetIAC, telnetDONT, 3}, rep2)
}

func TestTelnetFilterAnySplit(t *testing.T) {
	in := []byte{
		telnetIAC, telnetDO, 1,
		'l', 'o',
		telnetIAC, telnetWILL, 3,
		'g', 0, 'i',
		telnetIAC, telnetSB, 24, 1, telnetIAC, telnetSE,
		'n', telnetIAC, telnetIAC, ':',
	}
	wantReplies := []byte{telnetIAC, telnetWONT, 1, telnetIAC, telnetDONT, 3}
	for cut := 0; cut <= len(in); cut++ {
		tr := &TelnetTransport{}
		data1, rep1 := tr.filter(in[:cut])
		data2, rep2 := tr.filter(in[cut:])
		assert.Equal(t, "login\xff:", string(data1)+string(data2), "cut at %d", cut)
		assert.Equal(t, wantReplies, append(rep1, rep2...), "cut at %d", cut)
	}
}

func TestTelnetTransportRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = c.Write([]byte{telnetIAC, telnetWILL, 1})
		_, _ = c.Write([]byte("vyos login: "))
		buf := make([]byte, 7)
		if _, err := io.ReadFull(c, buf); err == nil {
			received <- buf
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	tr, err := TelnetDialer{Timeout: time.Second}.Dial(context.Background(), Endpoint{Host: "127.0.0.1", Port: port})
	require.NoError(t, err)

	m := NewMatcher(tr, 10*time.Millisecond, 0)
	_, err = m.WaitFor([]Pattern{Literal("login:")}, 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, tr.Send([]byte{'a', 0xff, '\n'}))
	select {
	case got := <-received:
		assert.Equal(t, []byte{telnetIAC, telnetDONT, 1, 'a', 0xff, 0xff, '\n'}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive data")
	}

	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
	_, err = tr.ReceiveAvailable(time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTelnetReceiveTimeoutReturnsNoData(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	tr := NewTelnetTransport(client)
	defer tr.Close()

	data, err := tr.ReceiveAvailable(20 * time.Millisecond)
	assert.NoError(t, err)
	assert.Empty(t, data)
}

func TestEndpointValidate(t *testing.T) {
	assert.NoError(t, Endpoint{Host: "10.0.0.1", Port: 5000}.Validate())
	assert.Error(t, Endpoint{Host: "10.0.0.1", Port: 0}.Validate())
	assert.Error(t, Endpoint{Host: "10.0.0.1", Port: 22, Protocol: "rlogin"}.Validate())
	assert.Equal(t, "telnet://[::1]:5000", Endpoint{Host: "::1", Port: 5000}.String())
}

func TestExecViewerArgs(t *testing.T) {
	v := ExecViewer{Command: []string{"konsole", "-e", "telnet", "{host}", "{port}"}}
	assert.Equal(t, []string{"konsole", "-e", "telnet", "10.0.0.5", "5001"}, v.Args(Endpoint{Host: "10.0.0.5", Port: 5001}))

	release, err := ExecViewer{}.Start(context.Background(), Endpoint{})
	require.NoError(t, err)
	release()
}
