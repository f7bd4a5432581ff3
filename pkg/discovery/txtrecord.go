package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeNodeTXT creates the TXT records for a node.
func EncodeNodeTXT(info *NodeInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	txt[TXTKeyVersion] = TXTVersion
	txt[TXTKeyID] = info.ID
	txt[TXTKeySKI] = normalizeSKI(info.SKI)
	txt[TXTKeyRegister] = strconv.FormatBool(info.Register)

	if info.Path != "" {
		txt[TXTKeyPath] = info.Path
	}
	if info.Brand != "" {
		txt[TXTKeyBrand] = info.Brand
	}
	if info.Model != "" {
		txt[TXTKeyModel] = info.Model
	}
	if info.Type != "" {
		txt[TXTKeyType] = info.Type
	}

	return txt
}

// DecodeNodeTXT parses the TXT records of a node.
func DecodeNodeTXT(txt TXTRecordMap) (*NodeInfo, error) {
	v, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if v != TXTVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
	}

	info := &NodeInfo{}

	info.ID, ok = txt[TXTKeyID]
	if !ok || info.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyID)
	}

	ski, ok := txt[TXTKeySKI]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeySKI)
	}
	info.SKI = normalizeSKI(ski)
	if !isSKI(info.SKI) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSKI, ski)
	}

	if r, ok := txt[TXTKeyRegister]; ok {
		reg, err := strconv.ParseBool(r)
		if err != nil {
			return nil, fmt.Errorf("%w: register %q", ErrInvalidTXTRecord, r)
		}
		info.Register = reg
	}

	info.Path = txt[TXTKeyPath]
	info.Brand = txt[TXTKeyBrand]
	info.Model = txt[TXTKeyModel]
	info.Type = txt[TXTKeyType]

	return info, nil
}

// normalizeSKI strips separators and lowercases an SKI.
func normalizeSKI(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(":", "", " ", "", "-", "").Replace(s)
}

func isSKI(s string) bool {
	return len(s) == SKILength && isHexString(s)
}

func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// TXTRecordsToStrings converts a TXTRecordMap to a sorted slice of
// "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}
