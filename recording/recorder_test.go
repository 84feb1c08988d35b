package recording

import (
	"database/sql"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loopscope/loopscope/profiling"
)

type sampleEntry struct {
	Name  string
	Value int64
}

var _ = Describe("Recorder", func() {
	var (
		db       *sql.DB
		recorder Recorder
	)

	BeforeEach(func() {
		var err error
		db, err = sql.Open("sqlite3", ":memory:")
		Expect(err).NotTo(HaveOccurred())

		recorder = NewRecorderWithDB(db)
	})

	AfterEach(func() {
		Expect(recorder.Close()).To(Succeed())
	})

	count := func(table string) int {
		row := db.QueryRow("SELECT COUNT(*) FROM " + table)
		var n int
		Expect(row.Scan(&n)).To(Succeed())
		return n
	}

	It("should list created tables", func() {
		recorder.CreateTable("samples", sampleEntry{})

		Expect(recorder.ListTables()).To(ConsistOf("samples"))
	})

	It("should write buffered entries on flush", func() {
		recorder.CreateTable("samples", sampleEntry{})

		recorder.Insert("samples", sampleEntry{Name: "a", Value: 1})
		recorder.Insert("samples", sampleEntry{Name: "b", Value: 2})
		recorder.Flush()

		Expect(count("samples")).To(Equal(2))

		row := db.QueryRow("SELECT Value FROM samples WHERE Name = 'b'")
		var value int64
		Expect(row.Scan(&value)).To(Succeed())
		Expect(value).To(Equal(int64(2)))
	})

	It("should refuse inserts into unknown tables", func() {
		Expect(func() {
			recorder.Insert("missing", sampleEntry{})
		}).To(Panic())
	})

	It("should refuse non-flat entries", func() {
		type nested struct {
			Inner sampleEntry
		}

		Expect(func() {
			recorder.CreateTable("nested", nested{})
		}).To(Panic())
	})

	Describe("SessionRecorder", func() {
		var sessions *SessionRecorder

		BeforeEach(func() {
			sessions = NewSessionRecorder(recorder)
		})

		It("should create the session tables", func() {
			Expect(recorder.ListTables()).To(ContainElements(
				"sessions", "session_tasks", "session_blocking", "session_lag"))
		})

		It("should persist stats with the full hierarchy", func() {
			stats := profiling.Stats{
				Backend:        "tracker",
				TasksCreated:   3,
				TasksCompleted: 3,
				TaskHierarchy: []*profiling.TaskNode{{
					ID:   "1",
					Name: "root",
					Children: []*profiling.TaskNode{
						{ID: "2", Name: "child-a"},
						{ID: "3", Name: "child-b"},
					},
				}},
				BlockingCalls: []profiling.BlockingEvent{{
					Duration: 60 * time.Millisecond,
					Callback: "stall",
					Severity: profiling.SeverityCritical,
				}},
			}

			sessions.Record("session-1", stats)

			Expect(count("sessions")).To(Equal(1))
			Expect(count("session_tasks")).To(Equal(3))
			Expect(count("session_blocking")).To(Equal(1))

			row := db.QueryRow(
				"SELECT ParentID, Depth FROM session_tasks WHERE TaskID = '2'")
			var parentID string
			var depth int
			Expect(row.Scan(&parentID, &depth)).To(Succeed())
			Expect(parentID).To(Equal("1"))
			Expect(depth).To(Equal(1))
		})

		It("should persist lag samples", func() {
			sessions.RecordLag("session-1", []profiling.LagSample{
				{Lag: time.Millisecond},
				{Lag: 2 * time.Millisecond},
			})

			Expect(count("session_lag")).To(Equal(2))
		})
	})
})
