// Command archivectl is the owner and steward command line for the profile
// archive. It uploads files through the bounded upload queue, collects batch
// metadata, reorders items and drives the review workflow.
package main
