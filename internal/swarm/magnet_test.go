package swarm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsBintang/zenith-downloader/internal/download"
)

const testInfoHash = "c9e15763f722f23e98a29decdfae341b98d53056"

func TestNormalizeMagnet(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantErr    bool
		wantReason string // empty when the message comes from the magnet parser
	}{
		{
			name: "magnet uri",
			raw:  "magnet:?xt=urn:btih:" + testInfoHash + "&dn=payload.iso",
		},
		{
			name: "bare hex info-hash",
			raw:  testInfoHash,
		},
		{
			name: "uppercase hex info-hash",
			raw:  strings.ToUpper(testInfoHash),
		},
		{
			name:    "magnet without info-hash",
			raw:     "magnet:?dn=payload.iso",
			wantErr: true,
		},
		{
			name:       "http url",
			raw:        "https://host/file.torrent",
			wantErr:    true,
			wantReason: "missing magnet scheme",
		},
		{
			name:       "truncated hex",
			raw:        testInfoHash[:20],
			wantErr:    true,
			wantReason: "missing magnet scheme",
		},
		{
			name:    "malformed xt",
			raw:     "magnet:?xt=urn:btih:zzzz",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := normalizeMagnet(tt.raw)

			if tt.wantErr {
				var magnetErr *download.InvalidMagnetError

				require.Error(t, err)
				require.ErrorAs(t, err, &magnetErr)

				if tt.wantReason != "" {
					assert.Contains(t, magnetErr.Reason, tt.wantReason)
				}

				return
			}

			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(uri, "magnet:?xt=urn:btih:"))
		})
	}
}

func TestIsHexInfoHash(t *testing.T) {
	assert.True(t, isHexInfoHash(testInfoHash))
	assert.True(t, isHexInfoHash(strings.ToUpper(testInfoHash)))
	assert.False(t, isHexInfoHash(testInfoHash[:39]))
	assert.False(t, isHexInfoHash(testInfoHash+"0"))
	assert.False(t, isHexInfoHash(strings.Replace(testInfoHash, "c", "g", 1)))
	assert.False(t, isHexInfoHash(""))
}
