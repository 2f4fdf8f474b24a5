// Package wikicounts ingests Wikimedia's published traffic archives: the
// hourly pageviews dumps and the daily mediacounts dumps. It contains the
// stages of the ingest pipeline, which is shared by both archives, and the
// interfaces which storage, tracking, and stats backends implement. The
// backends themselves live in sub-packages, and package job wires everything
// together into a single run.
//
// 1. Window
//
//    Every run processes exactly one upstream archive file, identified by an
//    Archive and a Window. The Window is derived from a reference time (now,
//    unless a backfill overrides it) by subtracting the Archive's fixed lag
//    and truncating to the Archive's granularity. The lag keeps us behind
//    upstream's own publication schedule: 1 day for pageviews, 2 days for
//    mediacounts. It is deliberately not configurable - backfills move the
//    reference time instead.
//
// 2. Fetcher
//
//    The Fetcher downloads the Window's archive to local scratch space and
//    uploads it byte for byte to the landing zone of a Store. The landed
//    archive is committed as a milestone of its own, so a run which fails
//    later can be replayed from the landing zone without going back to
//    upstream (see the FromLanding option of job.Main).
//
// 3. Parser
//
//    The Parser reads the landed archive as delimited text against a fixed,
//    versioned Schema. It is tolerant: fields which are missing or which do
//    not match their column type become nulls rather than failing the run.
//    Archival data is noisy and one bad line out of tens of millions is not
//    worth a failed run. Columns which upstream reserves for future use are
//    parsed as opaque text and dropped later.
//
// 4. Normalizer
//
//    The Normalizer assigns each record an id from an IDGenerator, stamps the
//    Window's date (and for hourly archives, the interval start), projects
//    the record down to the Archive's output columns, and drops records whose
//    uniqueness key it has already seen. Which duplicate survives is not
//    specified.
//
// 5. Writer
//
//    The Writer encodes the normalized records as Parquet and puts them in
//    the Store as a single object below the Window's date partition. Because
//    Store.Put replaces objects atomically, rerunning a Window overwrites its
//    previous output and readers never observe a partial write.
package wikicounts
