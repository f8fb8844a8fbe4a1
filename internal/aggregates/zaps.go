package aggregates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"
)

// ZapInfo contains parsed zap information
type ZapInfo struct {
	Amount        int64  // Amount in satoshis
	TargetEventID string // Event being zapped
	TargetPubkey  string // Pubkey being zapped (if profile zap)
	Sender        string // Pubkey of sender
	Comment       string // Optional comment
}

// human readable part of a bolt11 invoice: network prefix, amount, multiplier
var invoiceHRP = regexp.MustCompile(`^ln(?:bcrt|bc|tbs|tb)(\d+)([munp]?)$`)

// ParseZap extracts zap information from a kind 9735 receipt
func ParseZap(event *nostr.Event) ZapInfo {
	var info ZapInfo
	var requestMsats int64

	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}

		switch tag[0] {
		case "e":
			info.TargetEventID = tag[1]
		case "p":
			info.TargetPubkey = tag[1]
		case "description":
			// the zap request (kind 9734) as JSON
			requestMsats = parseZapRequest(tag[1], &info)
		case "bolt11":
			if amount, err := parseInvoiceAmount(tag[1]); err == nil {
				info.Amount = amount
			}
		}
	}

	if info.Amount == 0 && requestMsats > 0 {
		info.Amount = requestMsats / 1000
	}

	return info
}

// parseZapRequest fills sender and comment and returns the requested
// amount in millisats, if any
func parseZapRequest(desc string, info *ZapInfo) int64 {
	if !gjson.Valid(desc) {
		return 0
	}

	request := gjson.Parse(desc)
	info.Sender = request.Get("pubkey").String()
	info.Comment = request.Get("content").String()

	var msats int64
	request.Get("tags").ForEach(func(_, tag gjson.Result) bool {
		if tag.Get("0").String() == "amount" {
			msats = tag.Get("1").Int()
			return false
		}
		return true
	})
	return msats
}

// parseInvoiceAmount extracts the amount in satoshis from a bolt11 invoice
func parseInvoiceAmount(invoice string) (int64, error) {
	// Format: lnbc{amount}{multiplier}1{data}; the data charset has no '1'
	invoice = strings.ToLower(strings.TrimPrefix(invoice, "lightning:"))
	sep := strings.LastIndexByte(invoice, '1')
	if sep < 0 {
		return 0, fmt.Errorf("could not parse invoice amount")
	}

	matches := invoiceHRP.FindStringSubmatch(invoice[:sep])
	if len(matches) < 3 {
		return 0, fmt.Errorf("could not parse invoice amount")
	}

	amount, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, err
	}

	switch matches[2] {
	case "m": // millibitcoin = 100,000 sats
		amount = amount * 100000
	case "u": // microbitcoin = 100 sats
		amount = amount * 100
	case "n": // nanobitcoin = 0.1 sats
		amount = amount / 10
	case "p": // picobitcoin = 0.0001 sats
		amount = amount / 10000
	default: // whole bitcoin
		amount = amount * 100000000
	}

	return amount, nil
}

// FormatSats formats satoshis for display
func FormatSats(sats int64) string {
	if sats == 0 {
		return "0 sats"
	}

	if sats < 1000 {
		return fmt.Sprintf("%d sats", sats)
	}

	if sats < 1000000 {
		return fmt.Sprintf("%.1fK sats", float64(sats)/1000)
	}

	return fmt.Sprintf("%.2fM sats", float64(sats)/1000000)
}
