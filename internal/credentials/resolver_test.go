package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// touch creates a file (and its parents) under base.
func touch(t *testing.T, base string, rel ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{base}, rel...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("pem"), 0o600))
	return path
}

func write(t *testing.T, base, rel, content string) string {
	t.Helper()
	path := filepath.Join(base, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolve_MACLayout(t *testing.T) {
	base := t.TempDir()
	write(t, base, "aa:bb:cc:dd:ee:ff/node_id.txt", "node-a\n")
	cert := touch(t, base, "aa:bb:cc:dd:ee:ff", "node.crt")
	key := touch(t, base, "aa:bb:cc:dd:ee:ff", "node.key")

	id, err := NewResolver(nil).Resolve(base, "node-a", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, Identity{NodeID: "node-a", CertPath: cert, KeyPath: key, Layout: LayoutMAC}, id)
}

func TestResolve_MACLayoutCompactName(t *testing.T) {
	base := t.TempDir()
	write(t, base, "aabbccddeeff/node_id.txt", "node-a")
	touch(t, base, "aabbccddeeff", "node.crt")
	touch(t, base, "aabbccddeeff", "node.key")

	id, err := NewResolver(nil).Resolve(base, "node-a", "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, LayoutMAC, id.Layout)
}

func TestResolve_MACSidecarMismatchRejectsDirectory(t *testing.T) {
	base := t.TempDir()
	write(t, base, "aabbccddeeff/node_id.txt", "someone-else")
	touch(t, base, "aabbccddeeff", "node.crt")
	touch(t, base, "aabbccddeeff", "node.key")

	_, err := NewResolver(nil).Resolve(base, "node-a", "aabbccddeeff")
	require.ErrorIs(t, err, ErrCredentialsNotFound)

	// A later layout still matches.
	touch(t, base, "node-a.crt")
	touch(t, base, "node-a.key")
	id, err := NewResolver(nil).Resolve(base, "node-a", "aabbccddeeff")
	require.NoError(t, err)
	assert.Equal(t, LayoutFlat, id.Layout)
}

func TestResolve_NodeDetailsCandidates(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join("2024-01-02", "Mfg-000001", "node_details", "node-000001-nodeB")
	cert := touch(t, base, dir, "crt-node.crt")
	key := touch(t, base, dir, "private.key")
	// Flat files exist too but node_details wins.
	touch(t, base, "nodeB.crt")
	touch(t, base, "nodeB.key")

	id, err := NewResolver(nil).Resolve(base, "nodeB", "")
	require.NoError(t, err)
	assert.Equal(t, Identity{NodeID: "nodeB", CertPath: cert, KeyPath: key, Layout: LayoutNodeDetails}, id)
}

func TestResolve_NodeDetailsMissingKeyFallsThrough(t *testing.T) {
	base := t.TempDir()
	touch(t, base, "node_details", "node-000001-nodeC", "node.crt")

	_, err := NewResolver(nil).Resolve(base, "nodeC", "")
	require.ErrorIs(t, err, ErrCredentialsNotFound)
}

func TestResolve_CSVHeaderless(t *testing.T) {
	base := t.TempDir()
	cert := touch(t, base, "certs", "nodeD.crt")
	key := touch(t, base, "certs", "nodeD.key")
	write(t, base, "mfg/batch.csv", "key,type,encoding,value\n"+
		"node_id,data,string,nodeD\n"+
		"client_cert,file,string,certs/nodeD.crt\n"+
		"client_key,file,string,certs/nodeD.key\n")

	id, err := NewResolver(nil).Resolve(base, "nodeD", "")
	require.NoError(t, err)
	assert.Equal(t, Identity{NodeID: "nodeD", CertPath: cert, KeyPath: key, Layout: LayoutManifest}, id)
}

func TestResolve_CSVNodeIDFromFileName(t *testing.T) {
	base := t.TempDir()
	touch(t, base, "out", "node.crt")
	touch(t, base, "out", "node.key")
	write(t, base, "csv/node-Mfg1-nodeE.csv", "id,key,value\n"+
		"1,client_cert,out/node.crt\n"+
		"2,client_key,out/node.key\n")

	id, err := NewResolver(nil).Resolve(base, "nodeE", "")
	require.NoError(t, err)
	assert.Equal(t, "nodeE", id.NodeID)
	assert.Equal(t, LayoutManifest, id.Layout)
}

func TestResolve_CSVRebasesForeignAbsolutePaths(t *testing.T) {
	base := t.TempDir()
	cert := touch(t, base, "Mfg-1", "node_keys", "nodeF.crt")
	key := touch(t, base, "Mfg-1", "node_keys", "nodeF.key")
	write(t, base, "m.csv", "node_id,data,string,nodeF\n"+
		"client_cert,file,string,/home/other/admin-cli/Mfg-1/node_keys/nodeF.crt\n"+
		`client_key,file,string,C:\Users\x\admin-cli\Mfg-1\node_keys\nodeF.key`+"\n")

	id, err := NewResolver(nil).Resolve(base, "nodeF", "")
	require.NoError(t, err)
	assert.Equal(t, cert, id.CertPath)
	assert.Equal(t, key, id.KeyPath)
}

func TestResolve_ManifestExtensionNormalised(t *testing.T) {
	base := t.TempDir()
	cert := touch(t, base, "keys", "nodeG.crt")
	key := touch(t, base, "keys", "nodeG.key")
	write(t, base, "nodes.yaml", "- node_id: nodeG\n  client_cert: keys/nodeG.pem\n  client_key: keys/nodeG.pem\n")

	id, err := NewResolver(nil).Resolve(base, "nodeG", "")
	require.NoError(t, err)
	assert.Equal(t, cert, id.CertPath)
	assert.Equal(t, key, id.KeyPath)
}

func TestResolve_JSONManifest(t *testing.T) {
	base := t.TempDir()
	touch(t, base, "nodeH", "c.crt")
	touch(t, base, "nodeH", "k.key")
	write(t, base, "nodes.json", `{"nodes":[{"node_id":"nodeH","client_cert":"nodeH/c.crt","client_key":"nodeH/k.key"}]}`)

	id, err := NewResolver(nil).Resolve(base, "nodeH", "")
	require.NoError(t, err)
	assert.Equal(t, LayoutManifest, id.Layout)
}

func TestResolve_FlatAndNodeDir(t *testing.T) {
	base := t.TempDir()
	touch(t, base, "flat1.crt")
	touch(t, base, "flat1.key")
	touch(t, base, "node-dir1", "node.crt")
	touch(t, base, "node-dir1", "node.key")

	id, err := NewResolver(nil).Resolve(base, "flat1", "")
	require.NoError(t, err)
	assert.Equal(t, LayoutFlat, id.Layout)

	id, err = NewResolver(nil).Resolve(base, "dir1", "")
	require.NoError(t, err)
	assert.Equal(t, LayoutNodeDir, id.Layout)
	assert.Equal(t, filepath.Join(base, "node-dir1", "node.crt"), id.CertPath)
}

func TestResolve_Errors(t *testing.T) {
	base := t.TempDir()

	_, err := NewResolver(nil).Resolve(base, "absent", "")
	require.ErrorIs(t, err, ErrCredentialsNotFound)

	_, err = NewResolver(nil).Resolve(base, "", "")
	require.ErrorIs(t, err, ErrCredentialsNotFound)

	_, err = NewResolver(nil).Resolve(filepath.Join(base, "nope"), "x", "")
	require.ErrorIs(t, err, ErrInvalidBasePath)
}

func TestDiscover(t *testing.T) {
	base := t.TempDir()
	touch(t, base, "node_details", "node-1-zeta", "node.crt")
	touch(t, base, "node_details", "node-1-zeta", "node.key")
	touch(t, base, "node_details", "node-1-alpha", "certificate.crt")
	touch(t, base, "node_details", "node-1-alpha", "key-node.key")
	touch(t, base, "m", "mid.crt")
	touch(t, base, "m", "mid.key")
	write(t, base, "m.csv", "node_id,d,s,mid\nclient_cert,f,s,m/mid.crt\nclient_key,f,s,m/mid.key\n")
	// Same node id as node_details: first occurrence wins.
	write(t, base, "dup.yaml", "node_id: zeta\nclient_cert: m/mid.crt\nclient_key: m/mid.key\n")
	// Flat files are not discovered.
	touch(t, base, "flat.crt")
	touch(t, base, "flat.key")

	ids, err := NewResolver(nil).Discover(base)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, "alpha", ids[0].NodeID)
	assert.Equal(t, "mid", ids[1].NodeID)
	assert.Equal(t, "zeta", ids[2].NodeID)
	assert.Equal(t, LayoutNodeDetails, ids[2].Layout)
}

func TestNodeIDFromDirName(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"node-000001-abc", "abc", true},
		{"node-000001-abc-def", "abc-def", true},
		{"node-abc", "", false},
		{"nodes-1-abc", "", false},
		{"node--abc", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := nodeIDFromDirName(tt.name)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestRootCA(t *testing.T) {
	dir := t.TempDir()
	want := touch(t, dir, "certs", RootFile)

	got, err := RootCA(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = RootCA(t.TempDir())
	require.ErrorIs(t, err, ErrRootCertNotFound)
}
