package store

import (
	"strconv"

	"github.com/andrewtheguy/saveaudiostream/internal/model"
)

// metadataToKV/metadataFromKV give both backends one shared serialization
// of model.Metadata into the key/value rows spec §3 describes.
func metadataToKV(m model.Metadata) map[string]string {
	kv := map[string]string{
		"version":             strconv.Itoa(m.Version),
		"unique_id":           m.UniqueID,
		"name":                m.Name,
		"audio_format":        string(m.AudioFormat),
		"sample_rate":         strconv.Itoa(m.SampleRateHz),
		"split_interval":      strconv.Itoa(m.SplitInterval),
		"is_recipient":        strconv.FormatBool(m.IsRecipient),
		"aac_priming_samples": strconv.Itoa(m.AACPrimingSamples),
	}
	if m.AudioFormat != model.FormatWAV {
		kv["bitrate"] = strconv.Itoa(m.BitrateKbps)
	}
	if m.IsRecipient {
		kv["source_unique_id"] = m.SourceUniqueID
		kv["last_synced_id"] = strconv.FormatInt(m.LastSyncedID, 10)
	}
	return kv
}

func metadataFromKV(kv map[string]string) model.Metadata {
	atoi := func(key string) int {
		n, _ := strconv.Atoi(kv[key])
		return n
	}
	atoi64 := func(key string) int64 {
		n, _ := strconv.ParseInt(kv[key], 10, 64)
		return n
	}

	return model.Metadata{
		Version:           atoi("version"),
		UniqueID:          kv["unique_id"],
		Name:              kv["name"],
		AudioFormat:       model.AudioFormat(kv["audio_format"]),
		BitrateKbps:       atoi("bitrate"),
		SampleRateHz:      atoi("sample_rate"),
		SplitInterval:     atoi("split_interval"),
		IsRecipient:       kv["is_recipient"] == "true",
		SourceUniqueID:    kv["source_unique_id"],
		LastSyncedID:      atoi64("last_synced_id"),
		AACPrimingSamples: atoi("aac_priming_samples"),
	}
}
