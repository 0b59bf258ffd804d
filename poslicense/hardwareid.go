package poslicense

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// HardwareIDEnv overrides hardware id detection when set.
const HardwareIDEnv = "POS_HARDWARE_ID"

// virtualIfacePrefixes name interfaces created by container runtimes, VPNs
// and hypervisors. They come and go on a POS terminal and must not change
// its id.
var virtualIfacePrefixes = []string{"docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "tun", "tap", "wg", "utun", "zt"}

// GenerateHardwareID derives an identifier for the POS terminal from its
// machine-id (Linux), hostname, physical MAC addresses, OS and architecture,
// hashed with SHA-256. The license server binds a license to the first id
// it sees, so prefer LoadOrCreateHardwareID, which keeps the id stable when
// the network hardware changes.
//
// Cloned VMs and containers may share these facts; set POS_HARDWARE_ID to
// provide an explicit id instead.
func GenerateHardwareID() (string, error) {
	if id := strings.TrimSpace(os.Getenv(HardwareIDEnv)); id != "" {
		return id, nil
	}
	facts, err := hostFacts()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(strings.Join(facts, "\n")))
	return hex.EncodeToString(sum[:]), nil
}

// LoadOrCreateHardwareID returns the id stored at path, generating and
// storing one on first use. Once written, the id survives NIC swaps and
// hostname changes that would alter GenerateHardwareID's result and lock
// the terminal out of its license. POS_HARDWARE_ID still wins when set.
func LoadOrCreateHardwareID(path string) (string, error) {
	if id := strings.TrimSpace(os.Getenv(HardwareIDEnv)); id != "" {
		return id, nil
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read hardware id: %w", err)
	}

	id, err := GenerateHardwareID()
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, []byte(id+"\n")); err != nil {
		return "", fmt.Errorf("store hardware id: %w", err)
	}
	return id, nil
}

// hostFacts lists the labeled facts the hardware id is derived from.
func hostFacts() ([]string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("get hostname: %w", err)
	}
	facts := []string{
		"host=" + strings.ToLower(hostname),
		"os=" + runtime.GOOS + "/" + runtime.GOARCH,
	}
	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		facts = append(facts, "machine="+strings.TrimSpace(string(machineID)))
	}
	// best-effort: terminals without a NIC still get an id
	if ifaces, err := net.Interfaces(); err == nil {
		for _, mac := range physicalMACs(ifaces) {
			facts = append(facts, "mac="+mac)
		}
	}
	return facts, nil
}

// physicalMACs returns the sorted MAC addresses of non-loopback,
// non-virtual interfaces.
func physicalMACs(ifaces []net.Interface) []string {
	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 || isVirtualIface(iface.Name) {
			continue
		}
		macs = append(macs, iface.HardwareAddr.String())
	}
	sort.Strings(macs)
	return macs
}

func isVirtualIface(name string) bool {
	name = strings.ToLower(name)
	for _, p := range virtualIfacePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place, so a crash never leaves a truncated id behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".hardware-id-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
