package preview

import (
	"time"

	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"
)

// ICE timeouts for preview peers. A browser tab that goes away should be
// reaped quickly so the peer gauge stays accurate.
const (
	ICEDisconnectedTimeout = 5 * time.Second
	ICEFailedTimeout       = 10 * time.Second
	ICEKeepaliveInterval   = 2 * time.Second
)

// NewAPI creates the WebRTC API used for preview peers. Previews only
// carry data channels, so the default codecs and interceptors are enough.
func NewAPI() (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	s := pion.SettingEngine{}
	s.SetICETimeouts(ICEDisconnectedTimeout, ICEFailedTimeout, ICEKeepaliveInterval)

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(s),
	), nil
}
