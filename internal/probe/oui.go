package probe

import "vigilarium/internal/domain"

// ouiVendors maps MAC address prefixes (first three octets) to the
// registered manufacturer. A deliberately small table covering the
// vendors the classifier knows how to use; unknown prefixes resolve
// to the empty string.
var ouiVendors = map[string]string{
	"B8:27:EB": "Raspberry Pi Foundation",
	"DC:A6:32": "Raspberry Pi Trading",
	"E4:5F:01": "Raspberry Pi Trading",
	"00:11:32": "Synology Incorporated",
	"24:5E:BE": "QNAP Systems",
	"3C:22:FB": "Apple, Inc.",
	"A4:83:E7": "Apple, Inc.",
	"F4:5C:89": "Apple, Inc.",
	"F0:18:98": "Apple, Inc.",
	"5C:CF:7F": "Espressif Inc.",
	"24:0A:C4": "Espressif Inc.",
	"A4:CF:12": "Espressif Inc.",
	"00:80:77": "Brother Industries",
	"00:26:AB": "Seiko Epson",
	"00:1E:0B": "Hewlett Packard",
	"3C:52:82": "Hewlett Packard",
	"C0:56:E3": "Hikvision",
	"44:19:B6": "Hikvision",
	"F0:9F:C2": "Ubiquiti Networks",
	"74:AC:B9": "Ubiquiti Networks",
	"50:C7:BF": "TP-Link Technologies",
	"00:0E:58": "Sonos, Inc.",
	"5C:AA:FD": "Sonos, Inc.",
	"54:60:09": "Google, Inc.",
	"F4:F5:D8": "Google, Inc.",
	"44:65:0D": "Amazon Technologies",
	"FC:A1:83": "Amazon Technologies",
	"00:17:88": "Philips Lighting",
	"18:B4:30": "Nest Labs",
}

// LookupVendor resolves a MAC address prefix to its manufacturer
func LookupVendor(mac string) string {
	mac = domain.NormalizeMAC(mac)
	if len(mac) < 8 {
		return ""
	}
	return ouiVendors[mac[:8]]
}
