package database

import sqldb "github.com/obsdb/obsdb/internal/database/sqlc"

func mapProjectRow(row sqldb.Project) ProjectRecord {
	return ProjectRecord{
		ID:             row.ID,
		Name:           row.Name,
		Parent:         row.Parent,
		IgnoreUpstream: row.IgnoreUpstream != 0,
	}
}

func mapSrcPackageRow(row sqldb.Srcpackage) SrcPackageRecord {
	return SrcPackageRecord{
		ID:              row.ID,
		ProjectID:       row.ProjectID,
		Name:            row.Name,
		Srcmd5:          row.Srcmd5,
		Version:         row.Version,
		LinkProject:     row.LinkProject,
		LinkPackage:     row.LinkPackage,
		DevelProject:    row.DevelProject,
		DevelPackage:    row.DevelPackage,
		UpstreamName:    row.UpstreamName,
		UpstreamVersion: row.UpstreamVersion,
		UpstreamURL:     row.UpstreamUrl,
		IsLink:          row.IsLink != 0,
		HasDelta:        int(row.HasDelta),
		Error:           row.Error,
		ErrorDetails:    row.ErrorDetails,
	}
}

func srcPackageRow(rec SrcPackageRecord) sqldb.Srcpackage {
	return sqldb.Srcpackage{
		ID:              rec.ID,
		ProjectID:       rec.ProjectID,
		Name:            rec.Name,
		Srcmd5:          rec.Srcmd5,
		Version:         rec.Version,
		LinkProject:     rec.LinkProject,
		LinkPackage:     rec.LinkPackage,
		DevelProject:    rec.DevelProject,
		DevelPackage:    rec.DevelPackage,
		UpstreamName:    rec.UpstreamName,
		UpstreamVersion: rec.UpstreamVersion,
		UpstreamUrl:     rec.UpstreamURL,
		IsLink:          boolToInt64(rec.IsLink),
		HasDelta:        int64(rec.HasDelta),
		Error:           rec.Error,
		ErrorDetails:    rec.ErrorDetails,
	}
}

func mapBinaryPackageRow(row sqldb.Package) BinaryPackageRecord {
	return BinaryPackageRecord{
		ID:           row.ID,
		SrcPackageID: row.SrcpackageID,
		Name:         row.Name,
		Summary:      row.Summary,
		Description:  row.Description,
	}
}

func mapSourceRow(row sqldb.Source) SourceRecord {
	return SourceRecord{
		ID:           row.ID,
		SrcPackageID: row.SrcpackageID,
		Filename:     row.Filename,
		NbInPack:     int(row.NbInPack),
	}
}

func mapPatchRow(row sqldb.Patch) PatchRecord {
	return PatchRecord{
		ID:           row.ID,
		SrcPackageID: row.SrcpackageID,
		Filename:     row.Filename,
		NbInPack:     int(row.NbInPack),
		ApplyOrder:   int(row.ApplyOrder),
		Disabled:     row.Disabled != 0,
		Tag:          row.Tag,
		TagFilename:  row.TagFilename,
		ShortDescr:   row.ShortDescr,
		Descr:        row.Descr,
		Bnc:          row.Bnc,
		Bgo:          row.Bgo,
		Bmo:          row.Bmo,
		Bln:          row.Bln,
		Brc:          row.Brc,
		Fate:         row.Fate,
		Cve:          row.Cve,
	}
}

func patchRow(rec PatchRecord) sqldb.Patch {
	return sqldb.Patch{
		ID:           rec.ID,
		SrcpackageID: rec.SrcPackageID,
		Filename:     rec.Filename,
		NbInPack:     int64(rec.NbInPack),
		ApplyOrder:   int64(rec.ApplyOrder),
		Disabled:     boolToInt64(rec.Disabled),
		Tag:          rec.Tag,
		TagFilename:  rec.TagFilename,
		ShortDescr:   rec.ShortDescr,
		Descr:        rec.Descr,
		Bnc:          rec.Bnc,
		Bgo:          rec.Bgo,
		Bmo:          rec.Bmo,
		Bln:          rec.Bln,
		Brc:          rec.Brc,
		Fate:         rec.Fate,
		Cve:          rec.Cve,
	}
}

func mapFileRow(row sqldb.File) FileRecord {
	return FileRecord{
		ID:           row.ID,
		SrcPackageID: row.SrcpackageID,
		Filename:     row.Filename,
		Mtime:        row.Mtime,
	}
}

func mapRpmlintRow(row sqldb.Rpmlint) RpmlintRecord {
	return RpmlintRecord{
		ID:           row.ID,
		SrcPackageID: row.SrcpackageID,
		Level:        row.Level,
		Type:         row.Type,
		Detail:       row.Detail,
		Descr:        row.Descr,
	}
}
