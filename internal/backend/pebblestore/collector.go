package pebblestore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the storage engine's internal metrics.
type Collector struct {
	b *Backend

	compactions     *prometheus.Desc
	compactionDebt  *prometheus.Desc
	compactionBytes *prometheus.Desc
	memtableSize    *prometheus.Desc
	memtableCount   *prometheus.Desc
	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesIn      *prometheus.Desc
	walBytesWritten *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func desc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName("nessie", "pebble", name), help, nil, nil)
}

// Collector returns a prometheus.Collector over b's database.
func (b *Backend) Collector() *Collector {
	return &Collector{
		b:               b,
		compactions:     desc("compactions_total", "Compactions performed."),
		compactionDebt:  desc("compaction_debt_bytes", "Estimated bytes left to compact."),
		compactionBytes: desc("compaction_in_progress_bytes", "Bytes being compacted now."),
		memtableSize:    desc("memtable_size_bytes", "Memtable size."),
		memtableCount:   desc("memtables", "Live memtables."),
		walFiles:        desc("wal_files", "Live WAL files."),
		walSize:         desc("wal_size_bytes", "Live WAL data."),
		walBytesIn:      desc("wal_bytes_in_total", "Logical bytes written to the WAL."),
		walBytesWritten: desc("wal_bytes_written_total", "Physical bytes written to the WAL."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.compactions
	ch <- c.compactionDebt
	ch <- c.compactionBytes
	ch <- c.memtableSize
	ch <- c.memtableCount
	ch <- c.walFiles
	ch <- c.walSize
	ch <- c.walBytesIn
	ch <- c.walBytesWritten
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.b.db.Metrics()
	ch <- prometheus.MustNewConstMetric(c.compactions, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(c.compactionDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(c.compactionBytes, prometheus.GaugeValue, float64(m.Compact.InProgressBytes))
	ch <- prometheus.MustNewConstMetric(c.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(c.memtableCount, prometheus.GaugeValue, float64(m.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(c.walFiles, prometheus.GaugeValue, float64(m.WAL.Files))
	ch <- prometheus.MustNewConstMetric(c.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(c.walBytesIn, prometheus.CounterValue, float64(m.WAL.BytesIn))
	ch <- prometheus.MustNewConstMetric(c.walBytesWritten, prometheus.CounterValue, float64(m.WAL.BytesWritten))
}
