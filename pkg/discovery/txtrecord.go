package discovery

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/gridpulse/gridpulse-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodePublisherTXT creates TXT records for publisher discovery.
func EncodePublisherTXT(info *PublisherInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	ver := info.Version
	if ver == "" {
		ver = version.Current
	}
	txt[TXTKeyVersion] = ver
	txt[TXTKeyName] = info.Name

	if info.Secure {
		txt[TXTKeySecurity] = SecurityTLS
	} else {
		txt[TXTKeySecurity] = SecurityNone
	}

	return txt
}

// DecodePublisherTXT parses TXT records from publisher discovery.
func DecodePublisherTXT(txt TXTRecordMap) (*PublisherInfo, error) {
	info := &PublisherInfo{}

	var ok bool
	info.Version, ok = txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if _, err := version.Parse(info.Version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
	}

	info.Name, ok = txt[TXTKeyName]
	if !ok || info.Name == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyName)
	}

	// enc is optional; publishers that omit it are treated as plain TCP.
	switch sec := txt[TXTKeySecurity]; sec {
	case SecurityTLS:
		info.Secure = true
	case SecurityNone, "":
	default:
		return nil, fmt.Errorf("%w: unknown security %q", ErrInvalidTXTRecord, sec)
	}

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a sorted slice of
// "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if found {
			txt[k] = v
		} else if k != "" {
			// Key without value (boolean flag)
			txt[k] = ""
		}
	}
	return txt
}

// ValidateTXTRecords checks the encoded size of a TXT record set.
func ValidateTXTRecords(strs []string) error {
	size := 0
	for _, s := range strs {
		if len(s) > 255 {
			return fmt.Errorf("%w: entry %q exceeds 255 bytes", ErrInvalidTXTRecord, s[:16])
		}
		size += len(s) + 1
	}
	if size > MaxTXTRecordSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidTXTRecord, size, MaxTXTRecordSize)
	}
	return nil
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}

func joinHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
}
