// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"
)

// KeyEventRecord is one key event as received on the wire.
type KeyEventRecord struct {
	Keysym uint32
	Down   bool
}

// PointerEventRecord is one pointer event as received on the wire.
type PointerEventRecord struct {
	Mask uint8
	X, Y uint16
}

// UpdateRequestRecord is one framebuffer update request as received on the
// wire.
type UpdateRequestRecord struct {
	Incremental bool
	X, Y, W, H  uint16
}

// MockServer implements enough of the server side of RFB 3.8 to drive the
// client through handshake, capture, and input scenarios. It records the
// client's traffic so tests can assert on exact wire behavior.
type MockServer struct {
	listener net.Listener
	addr     string
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once

	// Configuration, set before Start.
	Greeting        []byte
	SecurityTypes   []uint8
	RejectReason    string
	Password        string
	AuthFailReason  string
	VeNCryptVersion [2]byte
	VeNCryptTypes   []uint32
	TLSConfig       *tls.Config
	FrameWidth      uint16
	FrameHeight     uint16
	DesktopName     string
	PixelFormat     [16]byte

	// Updates are consumed one per update request. When the queue drains
	// with CloseAfterUpdates set, the connection is closed, which the
	// client sees as a mid-stream EOF on its next read.
	Updates           [][]byte
	CloseAfterUpdates bool

	mu             sync.Mutex
	pendingUpdates [][]byte
	clientVersion  []byte
	chosenSecurity uint8
	chosenSubtype  uint32
	sharedFlag     byte
	plainUsername  string
	plainPassword  string
	setPixelFormat []byte
	setEncodings   []int32
	updateRequests []UpdateRequestRecord
	keyEvents      []KeyEventRecord
	pointerEvents  []PointerEventRecord
}

// NewMockServer creates a mock serving an open 8x6 desktop.
func NewMockServer() *MockServer {
	return &MockServer{
		Greeting:        []byte("RFB 003.008\n"),
		SecurityTypes:   []uint8{SecurityTypeNone},
		VeNCryptVersion: [2]byte{0, 2},
		FrameWidth:      8,
		FrameHeight:     6,
		DesktopName:     "mock desktop",
		PixelFormat:     PixelFormatRGB32.bytes(),
		stop:            make(chan struct{}),
	}
}

// Start starts the mock server on a random loopback port.
func (m *MockServer) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	m.listener = listener
	m.addr = listener.Addr().String()
	m.pendingUpdates = append([][]byte(nil), m.Updates...)

	m.wg.Add(1)
	go m.serve()
	return nil
}

// Stop shuts the server down and waits for every connection handler to
// finish, so recorded traffic is complete when Stop returns.
func (m *MockServer) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		if m.listener != nil {
			_ = m.listener.Close()
		}
		m.wg.Wait()
	})
}

// Addr returns the server address.
func (m *MockServer) Addr() string {
	return m.addr
}

func (m *MockServer) serve() {
	defer m.wg.Done()

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.handleConnection(conn)
		}()
	}
}

func (m *MockServer) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	// The handshake runs under one deadline; the message loop manages its
	// own read deadlines afterwards.
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return
	}

	if err := m.handleProtocolVersion(conn); err != nil {
		return
	}
	conn, err := m.handleSecurity(conn)
	if err != nil {
		return
	}
	if err := m.handleClientInit(conn); err != nil {
		return
	}
	if err := m.handleServerInit(conn); err != nil {
		return
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return
	}
	m.handleMessages(conn)
}

func (m *MockServer) handleProtocolVersion(conn net.Conn) error {
	if _, err := conn.Write(m.Greeting); err != nil {
		return err
	}

	buf := make([]byte, 12)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return err
	}
	m.mu.Lock()
	m.clientVersion = buf
	m.mu.Unlock()
	return nil
}

// handleSecurity runs the security handshake. It returns the connection the
// rest of the session uses, which differs from its argument when VeNCrypt
// wrapped the stream in TLS.
func (m *MockServer) handleSecurity(conn net.Conn) (net.Conn, error) {
	if len(m.SecurityTypes) == 0 {
		if err := binary.Write(conn, binary.BigEndian, uint8(0)); err != nil {
			return conn, err
		}
		_ = m.writeReason(conn, m.RejectReason)
		return conn, io.ErrClosedPipe
	}

	msg := append([]byte{uint8(len(m.SecurityTypes))}, m.SecurityTypes...) // #nosec G115 - Test code with small arrays
	if _, err := conn.Write(msg); err != nil {
		return conn, err
	}

	var chosen [1]byte
	if _, err := io.ReadFull(conn, chosen[:]); err != nil {
		return conn, err
	}
	m.mu.Lock()
	m.chosenSecurity = chosen[0]
	m.mu.Unlock()

	switch chosen[0] {
	case SecurityTypeNone:
		// Nothing further for None.
		return conn, nil
	case SecurityTypeVNCAuth:
		return conn, m.handleVNCAuth(conn)
	case SecurityTypeVeNCrypt:
		return m.handleVeNCrypt(conn)
	default:
		return conn, io.ErrClosedPipe
	}
}

// handleVNCAuth issues a fixed challenge and verifies the response against
// the server's own password, so only a client holding the same password and
// the same DES key transform passes.
func (m *MockServer) handleVNCAuth(conn net.Conn) error {
	challenge := make([]byte, challengeSize)
	for i := range challenge {
		challenge[i] = byte(i)
	}
	if _, err := conn.Write(challenge); err != nil {
		return err
	}

	response := make([]byte, challengeSize)
	if _, err := io.ReadFull(conn, response); err != nil {
		return err
	}

	expected, err := vncAuthResponse(m.Password, challenge)
	if err != nil || !bytes.Equal(response, expected) {
		if err := binary.Write(conn, binary.BigEndian, uint32(1)); err != nil {
			return err
		}
		_ = m.writeReason(conn, m.AuthFailReason)
		return io.ErrClosedPipe
	}
	return binary.Write(conn, binary.BigEndian, uint32(0))
}

func (m *MockServer) handleVeNCrypt(conn net.Conn) (net.Conn, error) {
	var clientVer [2]byte
	if _, err := io.ReadFull(conn, clientVer[:]); err != nil {
		return conn, err
	}
	if _, err := conn.Write(m.VeNCryptVersion[:]); err != nil {
		return conn, err
	}
	if m.VeNCryptVersion != [2]byte{0, 2} {
		// A client refusing the version stops talking; so do we.
		return conn, io.ErrClosedPipe
	}

	offer := []byte{uint8(len(m.VeNCryptTypes))} // #nosec G115 - Test code with small arrays
	for _, subtype := range m.VeNCryptTypes {
		offer = binary.BigEndian.AppendUint32(offer, subtype)
	}
	if _, err := conn.Write(offer); err != nil {
		return conn, err
	}
	if len(m.VeNCryptTypes) == 0 {
		return conn, io.ErrClosedPipe
	}

	var choice [4]byte
	if _, err := io.ReadFull(conn, choice[:]); err != nil {
		return conn, err
	}
	subtype := binary.BigEndian.Uint32(choice[:])
	m.mu.Lock()
	m.chosenSubtype = subtype
	m.mu.Unlock()

	if vencryptNeedsTLS(subtype) {
		tlsConn := tls.Server(conn, m.TLSConfig)
		if err := tlsConn.Handshake(); err != nil {
			return conn, err
		}
		conn = tlsConn
	}

	switch subtype {
	case VeNCryptTLSVnc, VeNCryptX509Vnc:
		return conn, m.handleVNCAuth(conn)
	case VeNCryptTLSNone, VeNCryptX509None:
		return conn, nil
	case VeNCryptPlain:
		return conn, m.handlePlainAuth(conn)
	default:
		return conn, io.ErrClosedPipe
	}
}

func (m *MockServer) handlePlainAuth(conn net.Conn) error {
	username, err := m.readPlainField(conn)
	if err != nil {
		return err
	}
	password, err := m.readPlainField(conn)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.plainUsername = username
	m.plainPassword = password
	m.mu.Unlock()

	if password != m.Password {
		if err := binary.Write(conn, binary.BigEndian, uint32(1)); err != nil {
			return err
		}
		_ = m.writeReason(conn, m.AuthFailReason)
		return io.ErrClosedPipe
	}
	return binary.Write(conn, binary.BigEndian, uint32(0))
}

func (m *MockServer) readPlainField(conn net.Conn) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return "", err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > 1024 {
		return "", io.ErrClosedPipe
	}
	field := make([]byte, length)
	if _, err := io.ReadFull(conn, field); err != nil {
		return "", err
	}
	return string(field), nil
}

// writeReason sends the RFB 3.8 length-prefixed reason string.
func (m *MockServer) writeReason(conn net.Conn, reason string) error {
	if err := binary.Write(conn, binary.BigEndian, uint32(len(reason))); err != nil { // #nosec G115 - Test code with short reasons
		return err
	}
	_, err := conn.Write([]byte(reason))
	return err
}

func (m *MockServer) handleClientInit(conn net.Conn) error {
	var shared [1]byte
	if _, err := io.ReadFull(conn, shared[:]); err != nil {
		return err
	}
	m.mu.Lock()
	m.sharedFlag = shared[0]
	m.mu.Unlock()
	return nil
}

func (m *MockServer) handleServerInit(conn net.Conn) error {
	if err := binary.Write(conn, binary.BigEndian, m.FrameWidth); err != nil {
		return err
	}
	if err := binary.Write(conn, binary.BigEndian, m.FrameHeight); err != nil {
		return err
	}
	if _, err := conn.Write(m.PixelFormat[:]); err != nil {
		return err
	}

	name := []byte(m.DesktopName)
	if err := binary.Write(conn, binary.BigEndian, uint32(len(name))); err != nil { // #nosec G115 - Test code with short names
		return err
	}
	_, err := conn.Write(name)
	return err
}

// handleMessages reads client messages until the connection closes. The stop
// channel is only consulted when the connection is idle, so traffic buffered
// before a close is always drained and recorded.
func (m *MockServer) handleMessages(conn net.Conn) {
	var msgType [1]byte
	for {
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return
		}
		if _, err := conn.Read(msgType[:]); err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				select {
				case <-m.stop:
					return
				default:
					continue
				}
			}
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			return
		}
		if !m.handleMessage(conn, msgType[0]) {
			return
		}
	}
}

func (m *MockServer) handleMessage(conn net.Conn, msgType uint8) bool {
	switch msgType {
	case 0: // SetPixelFormat
		buf := make([]byte, 19)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return false
		}
		m.mu.Lock()
		m.setPixelFormat = append([]byte(nil), buf[3:]...)
		m.mu.Unlock()

	case 2: // SetEncodings
		head := make([]byte, 3)
		if _, err := io.ReadFull(conn, head); err != nil {
			return false
		}
		count := int(binary.BigEndian.Uint16(head[1:3]))
		body := make([]byte, count*4)
		if _, err := io.ReadFull(conn, body); err != nil {
			return false
		}
		encodings := make([]int32, count)
		for i := 0; i < count; i++ {
			encodings[i] = int32(binary.BigEndian.Uint32(body[i*4 : i*4+4])) // #nosec G115 - Two's complement wire form
		}
		m.mu.Lock()
		m.setEncodings = encodings
		m.mu.Unlock()

	case 3: // FramebufferUpdateRequest
		buf := make([]byte, 9)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return false
		}
		m.mu.Lock()
		m.updateRequests = append(m.updateRequests, UpdateRequestRecord{
			Incremental: buf[0] != 0,
			X:           binary.BigEndian.Uint16(buf[1:3]),
			Y:           binary.BigEndian.Uint16(buf[3:5]),
			W:           binary.BigEndian.Uint16(buf[5:7]),
			H:           binary.BigEndian.Uint16(buf[7:9]),
		})
		m.mu.Unlock()
		return m.sendNextUpdate(conn)

	case 4: // KeyEvent
		buf := make([]byte, 7)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return false
		}
		m.mu.Lock()
		m.keyEvents = append(m.keyEvents, KeyEventRecord{
			Keysym: binary.BigEndian.Uint32(buf[3:7]),
			Down:   buf[0] != 0,
		})
		m.mu.Unlock()

	case 5: // PointerEvent
		buf := make([]byte, 5)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return false
		}
		m.mu.Lock()
		m.pointerEvents = append(m.pointerEvents, PointerEventRecord{
			Mask: buf[0],
			X:    binary.BigEndian.Uint16(buf[1:3]),
			Y:    binary.BigEndian.Uint16(buf[3:5]),
		})
		m.mu.Unlock()

	default:
		return false
	}
	return true
}

// sendNextUpdate answers an update request with the next scripted update.
// Reports whether the connection should stay open.
func (m *MockServer) sendNextUpdate(conn net.Conn) bool {
	m.mu.Lock()
	if len(m.pendingUpdates) == 0 {
		m.mu.Unlock()
		return !m.CloseAfterUpdates
	}
	update := m.pendingUpdates[0]
	m.pendingUpdates = m.pendingUpdates[1:]
	drained := len(m.pendingUpdates) == 0
	m.mu.Unlock()

	if _, err := conn.Write(update); err != nil {
		return false
	}
	return !(drained && m.CloseAfterUpdates)
}

// Recorded traffic accessors. Each returns a copy taken under the lock.

func (m *MockServer) ClientVersion() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.clientVersion...)
}

func (m *MockServer) ChosenSecurity() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chosenSecurity
}

func (m *MockServer) ChosenSubtype() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chosenSubtype
}

func (m *MockServer) SharedFlag() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharedFlag
}

func (m *MockServer) PlainCredentials() (username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plainUsername, m.plainPassword
}

func (m *MockServer) SetPixelFormatReceived() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.setPixelFormat...)
}

func (m *MockServer) SetEncodingsReceived() []int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int32(nil), m.setEncodings...)
}

func (m *MockServer) UpdateRequests() []UpdateRequestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UpdateRequestRecord(nil), m.updateRequests...)
}

func (m *MockServer) KeyEvents() []KeyEventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]KeyEventRecord(nil), m.keyEvents...)
}

func (m *MockServer) PointerEvents() []PointerEventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PointerEventRecord(nil), m.pointerEvents...)
}

// startMockServer starts a configured mock and registers its shutdown.
func startMockServer(t *testing.T, configure func(*MockServer)) *MockServer {
	t.Helper()
	srv := NewMockServer()
	if configure != nil {
		configure(srv)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("mock server start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

// dialMock connects a client to the mock with fast timeouts and no typing
// delays, failing the test on handshake errors.
func dialMock(t *testing.T, srv *MockServer, opts ...Option) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := []Option{
		WithConnectTimeout(2 * time.Second),
		WithIOTimeout(2 * time.Second),
		WithTypeDelay(0),
		WithKeyDelay(0),
	}
	client, err := Dial(ctx, srv.Addr(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// mockTLSConfig builds a server TLS config with an ephemeral self-signed
// certificate.
func mockTLSConfig(t *testing.T) *tls.Config {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "mock-rfb"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
	}
}

// Update builders used by capture and integration tests. All build wire
// bytes in the client's negotiated 32-bit big-endian format.

// updateMsg frames rectangles into one FramebufferUpdate message.
func updateMsg(rects ...[]byte) []byte {
	msg := []byte{0, 0}
	msg = binary.BigEndian.AppendUint16(msg, uint16(len(rects))) // #nosec G115 - Test code with few rectangles
	for _, rect := range rects {
		msg = append(msg, rect...)
	}
	return msg
}

// rectHeader frames a rectangle header.
func rectHeader(x, y, w, h int, enc int32) []byte {
	buf := make([]byte, 0, 12)
	buf = binary.BigEndian.AppendUint16(buf, uint16(x))   // #nosec G115 - Test coordinates
	buf = binary.BigEndian.AppendUint16(buf, uint16(y))   // #nosec G115 - Test coordinates
	buf = binary.BigEndian.AppendUint16(buf, uint16(w))   // #nosec G115 - Test coordinates
	buf = binary.BigEndian.AppendUint16(buf, uint16(h))   // #nosec G115 - Test coordinates
	buf = binary.BigEndian.AppendUint32(buf, uint32(enc)) // #nosec G115 - Two's complement wire form
	return buf
}

// solidRawRect builds a Raw rectangle filled with one color.
func solidRawRect(x, y, w, h int, r, g, b uint8) []byte {
	buf := rectHeader(x, y, w, h, int32(EncodingRaw))
	for i := 0; i < w*h; i++ {
		buf = append(buf, 0, r, g, b)
	}
	return buf
}

// rawRectPayload builds a Raw rectangle from explicit payload bytes.
func rawRectPayload(x, y, w, h int, payload []byte) []byte {
	return append(rectHeader(x, y, w, h, int32(EncodingRaw)), payload...)
}

// copyRectMsg builds a CopyRect rectangle.
func copyRectMsg(dstX, dstY, w, h, srcX, srcY int) []byte {
	buf := rectHeader(dstX, dstY, w, h, int32(EncodingCopyRect))
	buf = binary.BigEndian.AppendUint16(buf, uint16(srcX)) // #nosec G115 - Test coordinates
	buf = binary.BigEndian.AppendUint16(buf, uint16(srcY)) // #nosec G115 - Test coordinates
	return buf
}

// desktopSizeRect builds a DesktopSize pseudo-rectangle.
func desktopSizeRect(w, h int) []byte {
	return rectHeader(0, 0, w, h, int32(EncodingDesktopSize))
}
