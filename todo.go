/*
	Project: Ratiba - class timetables & live sessions for schools
*/
package ratiba

/*
TODO: holidays calendar: recurrence should skip school holidays (currently only weekends)
TODO: scope reads: students should only query their own classes & teachers their own availability
TODO: admin: bulk import of timetables (CSV) via API

------------------------------------ Version X ----------------------------------------
- Realtime: fan out events across api replicas (redis pub/sub); the hub only reaches the local connections
- Chain audit: regenerate orphaned chains automatically once the blocking class is cancelled
*/
