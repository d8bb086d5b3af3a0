package bp

import "fmt"

// AdminType is the first field of every administrative bundle's payload
// (§4.4). Unrecognized types must be ignored without error.
type AdminType uint64

const (
	AdminStatusReport AdminType = iota + 1
	AdminCustodySignal
	AdminIMCPetition
	AdminIMCBriefing
	AdminIONContactSync // decode-only, per §6
)

// PeekAdminType reads only the leading admin-type field of an admin
// bundle's payload, without decoding the rest — used by the daemon to
// dispatch to the right codec. ok is false for an unrecognized or
// unparseable type, which callers must treat as "ignore, not an error"
// per §4.4.
func PeekAdminType(payload []byte) (AdminType, bool) {
	r := NewCBORReader(payload)
	v, err := r.Uint("admin_type")
	if err != nil {
		return 0, false
	}
	switch AdminType(v) {
	case AdminStatusReport, AdminCustodySignal, AdminIMCPetition, AdminIMCBriefing, AdminIONContactSync:
		return AdminType(v), true
	default:
		return 0, false
	}
}

//
// Status report (§4.4, §6)
//

// StatusReason enumerates why a status report was generated.
type StatusReason uint64

const (
	ReasonNoInfo StatusReason = iota
	ReasonLifetimeExpired
	ReasonForwarded
	ReasonDelivered
	ReasonDeleted
	ReasonCustodyAccepted
)

// StatusReport is the admin-record payload for a bundle status report.
type StatusReport struct {
	BundleSourceEID string
	CreationTime    uint64
	CreationSeqNo   uint64
	FragOffset      uint64 // meaningful only when the reported bundle is a fragment
	FragLen         uint64
	Reason          StatusReason
	Delivered       bool
	Deleted         bool
}

func EncodeStatusReport(sr *StatusReport) []byte {
	w := NewCBORWriter()
	w.ArrayHeader(8)
	w.Uint(uint64(AdminStatusReport))
	w.TextString(sr.BundleSourceEID)
	w.Uint(sr.CreationTime)
	w.Uint(sr.CreationSeqNo)
	w.Uint(sr.FragOffset)
	w.Uint(sr.FragLen)
	w.Uint(uint64(sr.Reason))
	flags := uint64(0)
	if sr.Delivered {
		flags |= 1
	}
	if sr.Deleted {
		flags |= 2
	}
	w.Uint(flags)
	return w.Bytes()
}

func DecodeStatusReport(buf []byte) (*StatusReport, error) {
	r := NewCBORReader(buf)
	if _, err := r.ArrayHeader("status_report", 8, 8); err != nil {
		return nil, &ProtocolError{"status-report", err}
	}
	typ, err := r.Uint("admin_type")
	if err != nil {
		return nil, &ProtocolError{"status-report", err}
	}
	if AdminType(typ) != AdminStatusReport {
		return nil, &ProtocolError{"status-report", fmt.Errorf("admin type %d is not a status report", typ)}
	}
	sr := &StatusReport{}
	if sr.BundleSourceEID, err = r.TextString("bundle_source_eid"); err != nil {
		return nil, &ProtocolError{"status-report", err}
	}
	if sr.CreationTime, err = r.Uint("creation_time"); err != nil {
		return nil, &ProtocolError{"status-report", err}
	}
	if sr.CreationSeqNo, err = r.Uint("creation_seqno"); err != nil {
		return nil, &ProtocolError{"status-report", err}
	}
	if sr.FragOffset, err = r.Uint("frag_offset"); err != nil {
		return nil, &ProtocolError{"status-report", err}
	}
	if sr.FragLen, err = r.Uint("frag_len"); err != nil {
		return nil, &ProtocolError{"status-report", err}
	}
	reason, err := r.Uint("reason")
	if err != nil {
		return nil, &ProtocolError{"status-report", err}
	}
	sr.Reason = StatusReason(reason)
	flags, err := r.Uint("flags")
	if err != nil {
		return nil, &ProtocolError{"status-report", err}
	}
	sr.Delivered = flags&1 != 0
	sr.Deleted = flags&2 != 0
	return sr, nil
}

//
// Custody signal (§4.4, §6, §4.7)
//

// CustodySignal is the admin-record payload acknowledging (or declining) a
// custody transfer, or reporting its release (lifetime-expired, and so on).
type CustodySignal struct {
	BundleSourceEID string
	CreationTime    uint64
	CreationSeqNo   uint64
	Accepted        bool
	Reason          StatusReason
}

func EncodeCustodySignal(cs *CustodySignal) []byte {
	w := NewCBORWriter()
	w.ArrayHeader(6)
	w.Uint(uint64(AdminCustodySignal))
	w.TextString(cs.BundleSourceEID)
	w.Uint(cs.CreationTime)
	w.Uint(cs.CreationSeqNo)
	accepted := uint64(0)
	if cs.Accepted {
		accepted = 1
	}
	w.Uint(accepted)
	w.Uint(uint64(cs.Reason))
	return w.Bytes()
}

func DecodeCustodySignal(buf []byte) (*CustodySignal, error) {
	r := NewCBORReader(buf)
	if _, err := r.ArrayHeader("custody_signal", 6, 6); err != nil {
		return nil, &ProtocolError{"custody-signal", err}
	}
	typ, err := r.Uint("admin_type")
	if err != nil {
		return nil, &ProtocolError{"custody-signal", err}
	}
	if AdminType(typ) != AdminCustodySignal {
		return nil, &ProtocolError{"custody-signal", fmt.Errorf("admin type %d is not a custody signal", typ)}
	}
	cs := &CustodySignal{}
	if cs.BundleSourceEID, err = r.TextString("bundle_source_eid"); err != nil {
		return nil, &ProtocolError{"custody-signal", err}
	}
	if cs.CreationTime, err = r.Uint("creation_time"); err != nil {
		return nil, &ProtocolError{"custody-signal", err}
	}
	if cs.CreationSeqNo, err = r.Uint("creation_seqno"); err != nil {
		return nil, &ProtocolError{"custody-signal", err}
	}
	accepted, err := r.Uint("accepted")
	if err != nil {
		return nil, &ProtocolError{"custody-signal", err}
	}
	cs.Accepted = accepted != 0
	reason, err := r.Uint("reason")
	if err != nil {
		return nil, &ProtocolError{"custody-signal", err}
	}
	cs.Reason = StatusReason(reason)
	return cs, nil
}

//
// IMC group petition (§4.8, §6) — BPv7 CBOR [group, join_or_unjoin]. The
// BPv6 SDNV form (SDNV(group) || SDNV(join)) carries no admin-type field of
// its own on the wire (the bundle's is-admin flag plus destination group 0
// identify it); neither encoder here writes an AdminIMCPetition prefix, and
// both wire forms decode into the one IMCPetition type.
//

// IMCPetition is a group join/unjoin request. The base wire form is just
// [group, join_or_unjoin] (§4.8); a *proxy* petition — relayed by a router
// on behalf of another node, per the proxy protocol — additionally carries
// the is-proxy flag and the processed-by-node loop-prevention list. Plain
// (non-proxy) petitions encode IsProxy=false and an empty ProcessedBy, so
// both forms share one wire layout rather than a BPv7/BPv6 special case.
type IMCPetition struct {
	Group       uint64
	Join        bool // true = join, false = unjoin
	IsProxy     bool
	ProcessedBy []uint64
}

func EncodeIMCPetitionBPv7(p *IMCPetition) []byte {
	w := NewCBORWriter()
	w.ArrayHeader(4)
	w.Uint(p.Group)
	w.Uint(boolToUint(p.Join))
	w.Uint(boolToUint(p.IsProxy))
	w.ArrayHeader(len(p.ProcessedBy))
	for _, n := range p.ProcessedBy {
		w.Uint(n)
	}
	return w.Bytes()
}

func DecodeIMCPetitionBPv7(buf []byte) (*IMCPetition, error) {
	r := NewCBORReader(buf)
	if _, err := r.ArrayHeader("imc_petition", 4, 4); err != nil {
		return nil, &ProtocolError{"imc-petition", err}
	}
	group, err := r.Uint("group")
	if err != nil {
		return nil, &ProtocolError{"imc-petition", err}
	}
	join, err := r.Uint("join_or_unjoin")
	if err != nil {
		return nil, &ProtocolError{"imc-petition", err}
	}
	isProxy, err := r.Uint("is_proxy")
	if err != nil {
		return nil, &ProtocolError{"imc-petition", err}
	}
	n, err := r.ArrayHeader("processed_by", 0, -1)
	if err != nil {
		return nil, &ProtocolError{"imc-petition", err}
	}
	p := &IMCPetition{Group: group, Join: join != 0, IsProxy: isProxy != 0}
	for i := 0; i < n; i++ {
		node, err := r.Uint("processed_by_node")
		if err != nil {
			return nil, &ProtocolError{"imc-petition", err}
		}
		p.ProcessedBy = append(p.ProcessedBy, node)
	}
	return p, nil
}

func EncodeIMCPetitionBPv6(p *IMCPetition) []byte {
	var out []byte
	out = SDNVEncode(out, p.Group)
	out = SDNVEncode(out, boolToUint(p.Join))
	out = SDNVEncode(out, boolToUint(p.IsProxy))
	out = SDNVEncode(out, uint64(len(p.ProcessedBy)))
	for _, n := range p.ProcessedBy {
		out = SDNVEncode(out, n)
	}
	return out
}

func DecodeIMCPetitionBPv6(buf []byte) (*IMCPetition, error) {
	group, n, err := SDNVDecode(buf)
	if err != nil {
		return nil, &ProtocolError{"imc-petition-bpv6", err}
	}
	buf = buf[n:]
	join, n, err := SDNVDecode(buf)
	if err != nil {
		return nil, &ProtocolError{"imc-petition-bpv6", err}
	}
	buf = buf[n:]
	isProxy, n, err := SDNVDecode(buf)
	if err != nil {
		return nil, &ProtocolError{"imc-petition-bpv6", err}
	}
	buf = buf[n:]
	count, n, err := SDNVDecode(buf)
	if err != nil {
		return nil, &ProtocolError{"imc-petition-bpv6", err}
	}
	buf = buf[n:]
	p := &IMCPetition{Group: group, Join: join != 0, IsProxy: isProxy != 0}
	for i := uint64(0); i < count; i++ {
		node, n, err := SDNVDecode(buf)
		if err != nil {
			return nil, &ProtocolError{"imc-petition-bpv6", err}
		}
		buf = buf[n:]
		p.ProcessedBy = append(p.ProcessedBy, node)
	}
	return p, nil
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

//
// IMC briefing (§4.8, §6) — two encodings.
//

// RegionRec is one [node_num, is_router] pair in a DTNME-native briefing.
type RegionRec struct {
	Node     uint64
	IsRouter bool
}

// GroupRec is one [group_num, [node_nums...]] pair; a node number of 0
// within Nodes means "removed from this group" per §4.8.
type GroupRec struct {
	Group uint64
	Nodes []uint64
}

// IMCBriefing carries either encoding; Kind selects which fields are valid.
type IMCBriefing struct {
	Kind BriefingKind

	// ION-compatible: the groups this node handles.
	IONGroups []uint64

	// DTNME-native:
	HomeRegion uint64
	Regions    []RegionRec
	Groups     []GroupRec

	// SyncRequest marks this briefing as a request the receiver must answer
	// with its own briefing (§4.8).
	SyncRequest bool
}

type BriefingKind int

const (
	BriefingION BriefingKind = iota
	BriefingDTNME
)

func EncodeIMCBriefing(br *IMCBriefing) []byte {
	w := NewCBORWriter()
	w.ArrayHeader(2)
	w.Uint(uint64(AdminIMCBriefing))
	switch br.Kind {
	case BriefingION:
		w.ArrayHeader(len(br.IONGroups))
		for _, g := range br.IONGroups {
			w.Uint(g)
		}
	case BriefingDTNME:
		w.ArrayHeader(3)
		w.Uint(br.HomeRegion)
		w.ArrayHeader(len(br.Regions))
		for _, rr := range br.Regions {
			w.ArrayHeader(2)
			w.Uint(rr.Node)
			isRouter := uint64(0)
			if rr.IsRouter {
				isRouter = 1
			}
			w.Uint(isRouter)
		}
		w.ArrayHeader(len(br.Groups))
		for _, gr := range br.Groups {
			w.ArrayHeader(2)
			w.Uint(gr.Group)
			w.ArrayHeader(len(gr.Nodes))
			for _, n := range gr.Nodes {
				w.Uint(n)
			}
		}
	}
	return w.Bytes()
}

// DecodeIMCBriefing decodes either encoding: a body that is a 3-element
// array whose second member is itself an array is DTNME-native; any other
// body is read as the ION-compatible flat array of group numbers.
func DecodeIMCBriefing(buf []byte) (*IMCBriefing, error) {
	r := NewCBORReader(buf)
	if _, err := r.ArrayHeader("briefing", 2, 2); err != nil {
		return nil, &ProtocolError{"imc-briefing", err}
	}
	typ, err := r.Uint("admin_type")
	if err != nil {
		return nil, &ProtocolError{"imc-briefing", err}
	}
	if AdminType(typ) != AdminIMCBriefing {
		return nil, &ProtocolError{"imc-briefing", fmt.Errorf("admin type %d is not a briefing", typ)}
	}

	// Peek the body's array header without consuming, to pick the codec:
	// try DTNME-native (3-element body) first, fall back to ION.
	save := r.pos
	if n, err := r.ArrayHeader("body", 3, 3); err == nil && n == 3 {
		br := &IMCBriefing{Kind: BriefingDTNME}
		if br.HomeRegion, err = r.Uint("home_region"); err != nil {
			return nil, &ProtocolError{"imc-briefing", err}
		}
		nr, err := r.ArrayHeader("region_recs", 0, -1)
		if err != nil {
			goto ionBody // a 3-group ION body: its second member is a uint
		}
		for i := 0; i < nr; i++ {
			if _, err := r.ArrayHeader("region_rec", 2, 2); err != nil {
				return nil, &ProtocolError{"imc-briefing", err}
			}
			node, err := r.Uint("node_num")
			if err != nil {
				return nil, &ProtocolError{"imc-briefing", err}
			}
			isR, err := r.Uint("is_router")
			if err != nil {
				return nil, &ProtocolError{"imc-briefing", err}
			}
			br.Regions = append(br.Regions, RegionRec{Node: node, IsRouter: isR != 0})
		}
		ng, err := r.ArrayHeader("group_arrays", 0, -1)
		if err != nil {
			return nil, &ProtocolError{"imc-briefing", err}
		}
		for i := 0; i < ng; i++ {
			if _, err := r.ArrayHeader("group_array", 2, 2); err != nil {
				return nil, &ProtocolError{"imc-briefing", err}
			}
			group, err := r.Uint("group_num")
			if err != nil {
				return nil, &ProtocolError{"imc-briefing", err}
			}
			nn, err := r.ArrayHeader("node_nums", 0, -1)
			if err != nil {
				return nil, &ProtocolError{"imc-briefing", err}
			}
			gr := GroupRec{Group: group}
			for j := 0; j < nn; j++ {
				node, err := r.Uint("node_num")
				if err != nil {
					return nil, &ProtocolError{"imc-briefing", err}
				}
				gr.Nodes = append(gr.Nodes, node)
			}
			br.Groups = append(br.Groups, gr)
		}
		return br, nil
	}

ionBody:
	r.pos = save
	n, err := r.ArrayHeader("ion_groups", 0, -1)
	if err != nil {
		return nil, &ProtocolError{"imc-briefing", err}
	}
	br := &IMCBriefing{Kind: BriefingION}
	for i := 0; i < n; i++ {
		g, err := r.Uint("group_num")
		if err != nil {
			return nil, &ProtocolError{"imc-briefing", err}
		}
		br.IONGroups = append(br.IONGroups, g)
	}
	return br, nil
}
