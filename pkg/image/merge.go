package image

import (
	"sort"
)

// NodeReport is the image list one builder node reported.
type NodeReport struct {
	NodeIP string
	Images []Summary
}

// Merged is an image (by `name:tag`) together with the nodes that
// have it.
type Merged struct {
	FullName  string   `json:"fullName"`
	ImageName string   `json:"imageName"`
	Tag       string   `json:"tag"`
	NodeIPs   []string `json:"nodeIps"`
	NodeCount int      `json:"nodeCount"`
}

// Merge folds the reports from many nodes into one list, keyed by
// `name:tag`. A node is counted once per key no matter how often it
// lists the same tag, so NodeCount is always len(NodeIPs). The
// result is sorted most replicated first, then by name and tag, and
// does not depend on the order of reports.
func Merge(reports []NodeReport) []Merged {
	nodes := map[string]map[string]struct{}{}
	refs := map[string]Ref{}
	for _, report := range reports {
		for _, img := range report.Images {
			for _, tag := range img.Tags {
				ref := ParseRef(tag)
				key := ref.String()
				set, ok := nodes[key]
				if !ok {
					set = map[string]struct{}{}
					nodes[key] = set
					refs[key] = ref
				}
				set[report.NodeIP] = struct{}{}
			}
		}
	}

	merged := make([]Merged, 0, len(nodes))
	for key, set := range nodes {
		ips := make([]string, 0, len(set))
		for ip := range set {
			ips = append(ips, ip)
		}
		sort.Strings(ips)
		merged = append(merged, Merged{
			FullName:  key,
			ImageName: refs[key].Name,
			Tag:       refs[key].Tag,
			NodeIPs:   ips,
			NodeCount: len(ips),
		})
	}
	Sort(merged)
	return merged
}

// Sort orders merged images by descending node count, then by name,
// then by tag.
func Sort(merged []Merged) {
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		switch {
		case a.NodeCount != b.NodeCount:
			return a.NodeCount > b.NodeCount
		case a.ImageName != b.ImageName:
			return a.ImageName < b.ImageName
		default:
			return a.Tag < b.Tag
		}
	})
}

// Filter keeps the merged images whose tag the filter lets through,
// in the same order. A nil filter keeps everything.
func Filter(merged []Merged, filter TagFilter) []Merged {
	if filter == nil {
		return merged
	}
	out := []Merged{}
	for _, m := range merged {
		if filter.Matches(m.Tag) {
			out = append(out, m)
		}
	}
	return out
}
